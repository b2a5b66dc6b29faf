package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"microloan-client/internal/api"
	"microloan-client/internal/common/auth"
	"microloan-client/internal/common/errors"
	commonhttp "microloan-client/internal/common/http"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/notify"
	"microloan-client/internal/common/payment"
	"microloan-client/internal/models"
	"microloan-client/internal/views"
	"microloan-client/internal/workflows/application"
	"microloan-client/pkg/registry"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeSessions struct {
	mu   sync.Mutex
	snap models.Session
	subs []func(models.Session)

	loginErr  error
	providers func(ctx context.Context, kind models.ProviderKind, open auth.Opener) (*models.UserProfile, error)
}

func (f *fakeSessions) Snapshot() models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeSessions) Subscribe(fn func(models.Session)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	fn(f.snap.Clone())
	return func() {}
}

func (f *fakeSessions) set(s models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
	for _, fn := range f.subs {
		fn(s.Clone())
	}
}

func (f *fakeSessions) Login(_ context.Context, email, _ string) (*models.UserProfile, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	u := &models.UserProfile{ID: "u1", Email: email, Role: models.RoleBorrower}
	f.set(models.Session{User: u})
	return u, nil
}

func (f *fakeSessions) Register(_ context.Context, email, _, name, _ string, role models.Role) (*models.UserProfile, error) {
	return &models.UserProfile{ID: "u2", Email: email, Name: name, Role: role}, nil
}

func (f *fakeSessions) LoginWithProvider(ctx context.Context, kind models.ProviderKind, open auth.Opener) (*models.UserProfile, error) {
	return f.providers(ctx, kind, open)
}

func (f *fakeSessions) Logout(context.Context) error {
	f.set(models.Session{})
	return nil
}

type fakeCompleter struct {
	codes chan string
}

func (f *fakeCompleter) Complete(kind models.ProviderKind, state, code, oauthErr string) error {
	if state != "st1" {
		return errors.NewAuthError("Unknown or expired sign-in attempt", nil)
	}
	f.codes <- code
	return nil
}

type stubProcessor struct{}

func (stubProcessor) ConfirmCardPayment(context.Context, string, payment.Method) (*models.PaymentIntent, error) {
	return &models.PaymentIntent{ID: "pi_9", Status: models.IntentSucceeded, Amount: 1000}, nil
}

type harness struct {
	server   *Server
	sessions *fakeSessions
	oauth    *fakeCompleter
	queue    *notify.Queue

	mu      sync.Mutex
	routes  map[string]string
	status  map[string]int
	queries map[string]string
}

func (h *harness) backend(key string, status int, body string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[key] = body
	h.status[key] = status
}

func newHarness(t *testing.T, snap models.Session) *harness {
	h := &harness{
		sessions: &fakeSessions{snap: snap},
		oauth:    &fakeCompleter{codes: make(chan string, 1)},
		routes:   map[string]string{},
		status:   map[string]int{},
		queries:  map[string]string{},
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		h.mu.Lock()
		body, ok := h.routes[key]
		status := h.status[key]
		h.queries[key] = r.URL.RawQuery
		h.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"message":"no route"}`)
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(backend.Close)

	// handlers of hijacked websocket connections can outlive the test
	log := logger.NewNoOpLogger()
	h.queue = notify.NewQueue(10, nil)
	client := api.New(commonhttp.NewBackendClient(backend.URL, 2*time.Second, nil, log))
	wf := application.New(client.Applications, stubProcessor{}, nil, h.queue, log)

	table, err := registry.Default()
	require.NoError(t, err)

	h.server, err = New(Deps{
		Routes:        table,
		Sessions:      h.sessions,
		Views:         views.New(client, wf, h.queue, log),
		OAuth:         h.oauth,
		Notifications: h.queue,
		Logger:        log,
	}, Options{Mode: gin.TestMode, ProviderLoginTimeout: 2 * time.Second})
	require.NoError(t, err)
	return h
}

func (h *harness) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	resp := decode(t, w)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, w.Body.String())
	return data
}

func signedIn(role models.Role) models.Session {
	return models.Session{User: &models.UserProfile{ID: "u1", Email: "r@example.com", Role: role}}
}

const myApplications = `{"success":true,"applications":[
	{"_id":"a1","loanTitle":"Edu","status":"Pending","applicationFeeStatus":"Unpaid"}
]}`

// ==========================
// Construction
// ==========================

func TestNew_EveryRouteNeedsAHandler(t *testing.T) {
	table := &registry.RouteTable{Routes: []registry.Route{{ID: "unknown", Path: "/x"}}}
	_, err := New(Deps{
		Routes:   table,
		Sessions: &fakeSessions{},
		Views:    views.New(nil, nil, nil, nil),
	}, Options{Mode: gin.TestMode})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
}

// ==========================
// Guard
// ==========================

func TestGuard(t *testing.T) {
	tests := []struct {
		name         string
		session      models.Session
		method       string
		path         string
		wantStatus   int
		wantLocation string
	}{
		{"loading waits", models.Session{Loading: true}, "GET", "/dashboard/my-loans", http.StatusAccepted, ""},
		{"anonymous goes home", models.Session{}, "GET", "/dashboard/my-loans", http.StatusFound, "/"},
		{"wrong role goes home", signedIn(models.RoleManager), "GET", "/dashboard/my-loans", http.StatusFound, "/"},
		{"wrong role mutation is forbidden", signedIn(models.RoleManager), "DELETE", "/dashboard/my-loans/a1", http.StatusForbidden, ""},
		{"dashboard resolves role home", signedIn(models.RoleAdmin), "GET", "/dashboard", http.StatusFound, "/dashboard/manage-users"},
		{"private route needs sign in", models.Session{}, "GET", "/loans/l1", http.StatusFound, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.session)
			w := h.do(tt.method, tt.path, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			}
		})
	}
}

func TestPublicRoutesRenderWhileLoading(t *testing.T) {
	h := newHarness(t, models.Session{Loading: true})
	h.backend("GET /loans/featured", 200, `{"success":true,"loans":[{"_id":"l1","title":"Edu"}]}`)

	w := h.do("GET", "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	loans := dataOf(t, w)["featuredLoans"].([]interface{})
	assert.Len(t, loans, 1)
}

// ==========================
// Pages
// ==========================

func TestAllLoans_ForwardsPaging(t *testing.T) {
	h := newHarness(t, models.Session{})
	h.backend("GET /loans", 200, `{"success":true,"loans":[{"_id":"l2"}],"totalPages":3}`)

	w := h.do("GET", "/loans?page=2&search=agri", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), dataOf(t, w)["totalPages"])
	assert.Equal(t, "limit=9&page=2&search=agri", h.queries["GET /loans"])
}

func TestLoanDetails_NotFound(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleBorrower))
	h.backend("GET /loans/missing", 404, `{"message":"Loan not found"}`)

	w := h.do("GET", "/loans/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w).Error)
}

func TestApplySubmit_ValidationFields(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleBorrower))
	h.backend("GET /loans/l1", 200, `{"success":true,"loan":{"_id":"l1","title":"Edu","maxLimit":5000}}`)

	w := h.do("POST", "/apply/l1", models.ApplicationInput{FirstName: "R"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields := dataOf(t, w)["fields"].([]interface{})
	assert.NotEmpty(t, fields)
}

func TestMyLoans_BackendUnauthorizedRedirectsToLogin(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleBorrower))
	h.backend("GET /applications/my-applications", 401, `{"message":"expired"}`)

	w := h.do("GET", "/dashboard/my-loans", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
}

func TestCancelApplication_AsksForConfirmation(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleBorrower))
	h.backend("GET /applications/my-applications", 200, myApplications)
	h.backend("DELETE /applications/a1", 200, `{"success":true}`)

	w := h.do("DELETE", "/dashboard/my-loans/a1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, true, data["confirmationRequired"])
	assert.Equal(t, "Cancel this application?", data["prompt"])
	_, called := h.queries["DELETE /applications/a1"]
	assert.False(t, called)

	w = h.do("DELETE", "/dashboard/my-loans/a1?confirmed=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataOf(t, w)["cancelled"])
}

func TestPayFee(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleBorrower))
	h.backend("GET /applications/my-applications", 200, myApplications)
	h.backend("POST /applications/create-payment-intent", 200, `{"clientSecret":"pi_9_secret_x"}`)
	h.backend("POST /applications/confirm-payment", 200, `{"success":true}`)

	w := h.do("POST", "/dashboard/my-loans/a1/pay", payment.Method{PaymentMethodID: "pm_card_visa"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pi_9", dataOf(t, w)["paymentIntentId"])

	w = h.do("POST", "/dashboard/my-loans/a1/pay", payment.Method{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestApprove_InvalidTransitionIsConflict(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleManager))
	h.backend("GET /applications", 200, `{"success":true,"applications":[{"_id":"a1","status":"Approved"}]}`)

	w := h.do("POST", "/dashboard/pending-loans/a1/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, w).Error)
}

func TestSuspendUser_RequiresReason(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleAdmin))

	w := h.do("PATCH", "/dashboard/manage-users/u1/suspend", map[string]string{"reason": " "})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	notes := h.queue.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "Please provide a reason for suspension", notes[0].Message)
}

func TestProfile(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleManager))

	w := h.do("GET", "/dashboard/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/dashboard/add-loan", dataOf(t, w)["dashboardHome"])
}

// ==========================
// Auth
// ==========================

func TestLogin(t *testing.T) {
	h := newHarness(t, models.Session{})

	w := h.do("POST", "/auth/login", map[string]string{"email": "r@example.com", "password": "Secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/", dataOf(t, w)["redirectTo"])

	h.sessions.loginErr = errors.NewAuthError("Invalid email or password", nil)
	w = h.do("POST", "/auth/login", map[string]string{"email": "r@example.com", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid email or password", decode(t, w).Message)
}

func TestLogin_MalformedBody(t *testing.T) {
	h := newHarness(t, models.Session{})
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProviderLogin_CompletesThroughCallback(t *testing.T) {
	h := newHarness(t, models.Session{})
	h.sessions.providers = func(ctx context.Context, kind models.ProviderKind, open auth.Opener) (*models.UserProfile, error) {
		if err := open("https://accounts.example/auth?state=st1"); err != nil {
			return nil, err
		}
		select {
		case <-h.oauth.codes:
			return &models.UserProfile{ID: "u3", Role: models.RoleBorrower}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w := h.do("POST", "/auth/provider/google", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "https://accounts.example/auth?state=st1", dataOf(t, w)["authUrl"])
	assert.Equal(t, 1, h.server.pendingLogins())

	w = h.do("GET", "/auth/callback/google?state=st1&code=abc", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Equal(t, 0, h.server.pendingLogins())
}

func TestProviderLogin_FailsBeforeRedirect(t *testing.T) {
	h := newHarness(t, models.Session{})
	h.sessions.providers = func(context.Context, models.ProviderKind, auth.Opener) (*models.UserProfile, error) {
		return nil, errors.NewAuthError("github sign-in is not configured", nil)
	}

	w := h.do("POST", "/auth/provider/github", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, h.server.pendingLogins())
}

func TestProviderCallback_Rejects(t *testing.T) {
	h := newHarness(t, models.Session{})

	w := h.do("GET", "/auth/callback/myspace?state=st1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do("GET", "/auth/callback/google?state=other&code=abc", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleBorrower))

	w := h.do("POST", "/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, h.sessions.Snapshot().User)
}

// ==========================
// Session API
// ==========================

func TestSessionAndNotifications(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleAdmin))
	h.queue.Success(context.Background(), "Role updated successfully")

	w := h.do("GET", "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := dataOf(t, w)["user"].(map[string]interface{})
	assert.Equal(t, "admin", user["role"])

	w = h.do("GET", "/api/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	notes := decode(t, w).Data.([]interface{})
	require.Len(t, notes, 1)
	assert.Equal(t, 0, h.queue.Len())
}

func TestSessionStream(t *testing.T) {
	h := newHarness(t, models.Session{Loading: true})
	srv := httptest.NewServer(h.server.Handler())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/session", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first models.Session
	require.NoError(t, conn.ReadJSON(&first))
	assert.True(t, first.Loading)

	h.sessions.set(signedIn(models.RoleBorrower))
	h.sessions.set(models.Session{})

	var second, third models.Session
	require.NoError(t, conn.ReadJSON(&second))
	require.NoError(t, conn.ReadJSON(&third))
	require.NotNil(t, second.User)
	assert.Equal(t, models.RoleBorrower, second.User.Role)
	assert.Nil(t, third.User)
	assert.False(t, third.Loading)
}

func TestSessionStream_RejectsForeignOrigin(t *testing.T) {
	h := newHarness(t, signedIn(models.RoleBorrower))
	srv := httptest.NewServer(h.server.Handler())
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"no origin", "", true},
		{"same host", srv.URL, true},
		{"other site", "http://attacker.example", false},
		{"other port", "http://127.0.0.1:1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if !tt.ok {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

			var snap models.Session
			require.NoError(t, conn.ReadJSON(&snap))
			require.NotNil(t, snap.User)
		})
	}
}

func TestSnapshotQueue_KeepsNewest(t *testing.T) {
	q := newSnapshotQueue(2)
	q.push(models.Session{Loading: true})
	q.push(signedIn(models.RoleAdmin))
	q.push(models.Session{})

	got := q.take()
	require.Len(t, got, 2)
	assert.Equal(t, models.RoleAdmin, got[0].User.Role)
	assert.Nil(t, got[1].User)
	assert.Empty(t, q.take())
}

// ==========================
// Error mapping
// ==========================

func TestRespondError_MetadataIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	engine := gin.New()
	engine.Use(requestLogger(logger.NewZapAdapter(zap.New(core)), nil))
	engine.POST("/pay", func(c *gin.Context) {
		respondError(c, errors.NewPaymentDeclinedError("Payment was not completed", nil).
			WithMetadata("intentStatus", "requires_action"))
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pay", nil))

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	resp := decode(t, w)
	assert.Nil(t, resp.Data)
	assert.NotContains(t, w.Body.String(), "requires_action")

	entries := logs.FilterMessage("request rejected").All()
	require.Len(t, entries, 1)
	meta, ok := entries[0].ContextMap()["errorMeta"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "requires_action", meta["intentStatus"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *errors.StandardError
		want int
	}{
		{errors.NewValidationError(nil), http.StatusUnprocessableEntity},
		{errors.NewAuthError("x", nil), http.StatusUnauthorized},
		{errors.NewSessionSupersededError("login"), http.StatusConflict},
		{errors.NewNotAuthorizedError("admin"), http.StatusForbidden},
		{errors.NewBackendError(404, ""), http.StatusNotFound},
		{errors.NewBackendError(400, "bad"), http.StatusBadRequest},
		{errors.NewBackendError(503, ""), http.StatusBadGateway},
		{errors.NewPaymentDeclinedError("", nil), http.StatusPaymentRequired},
		{errors.NewNetworkError("get", nil), http.StatusServiceUnavailable},
		{errors.NewTimeoutError("get", nil), http.StatusGatewayTimeout},
		{errors.NewInternalError(nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
