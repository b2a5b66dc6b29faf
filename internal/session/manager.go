// Package session owns the signed-in user for the process: it exchanges
// identity-provider sign-ins for backend tokens, keeps the observable
// Session and orders concurrent operations so the latest issued one wins.
package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"microloan-client/internal/common/auth"
	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/metrics"
	"microloan-client/internal/common/notify"
	"microloan-client/internal/common/validation"
	"microloan-client/internal/models"
)

// IdentityProvider is the external sign-in service.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*models.ProviderIdentity, error)
	SignUp(ctx context.Context, email, password string) (*models.ProviderIdentity, error)
	UpdateProfile(ctx context.Context, displayName, photoURL string) (*models.ProviderIdentity, error)
	SignInWithProvider(ctx context.Context, kind models.ProviderKind, open auth.Opener) (*models.ProviderIdentity, error)
	SignOut(ctx context.Context) error
	CurrentIdentity(ctx context.Context) (*models.ProviderIdentity, error)
	OnAuthStateChanged(fn func(*models.ProviderIdentity)) func()
}

// Backend is the part of the REST API the session needs.
type Backend interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)
	Me(ctx context.Context) (*models.UserProfile, error)
	Logout(ctx context.Context) error
}

type Options struct {
	TokenTTL       time.Duration
	RefreshTimeout time.Duration
}

type Manager struct {
	provider IdentityProvider
	backend  Backend
	tokens   TokenStore
	notifier notify.Notifier
	logger   logger.Logger
	errs     *errors.Handler
	opts     Options

	mu      sync.Mutex
	state   models.Session
	issued  uint64
	applied uint64
	ownOps  int
	closed  bool
	ready   chan struct{}

	// commitMu serializes the stale check, the token write and the state
	// change of one result.
	commitMu sync.Mutex

	notifyMu sync.Mutex
	subs     map[int]func(models.Session)
	nextSub  int

	refreshes singleflight.Group

	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

func NewManager(provider IdentityProvider, backend Backend, tokens TokenStore, notifier notify.Notifier, log logger.Logger, opts Options) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 15 * time.Second
	}
	log = log.With(map[string]interface{}{"component": "session"})
	return &Manager{
		provider: provider,
		backend:  backend,
		tokens:   tokens,
		notifier: notifier,
		logger:   log,
		errs:     errors.NewHandler(log),
		opts:     opts,
		state:    models.Session{Loading: true},
		ready:    make(chan struct{}),
		subs:     make(map[int]func(models.Session)),
	}
}

// ==========================
// Lifecycle
// ==========================

// Start subscribes to identity changes. The provider reports the current
// identity right away, which resolves the initial Loading state.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Unlock()

	unsubscribe := m.provider.OnAuthStateChanged(m.onAuthStateChanged)

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// Close stops the passive subscription and waits for background refreshes.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe, cancel := m.unsubscribe, m.cancel
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// WaitReady blocks until the first resolution of the session.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Subscribe calls fn with the current session and after every change, in
// state order. fn runs under the notify lock: it must return quickly and
// must not call back into Subscribe or any state-changing operation.
func (m *Manager) Subscribe(fn func(models.Session)) func() {
	m.mu.Lock()
	m.notifyMu.Lock()
	snap := m.state.Clone()
	m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	fn(snap)
	m.notifyMu.Unlock()
	metrics.SessionSubscribers.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.notifyMu.Lock()
			delete(m.subs, id)
			m.notifyMu.Unlock()
			metrics.SessionSubscribers.Dec()
		})
	}
}

// ==========================
// Explicit operations
// ==========================

// Login signs in with email and password and exchanges the identity for a
// backend session.
func (m *Manager) Login(ctx context.Context, email, password string) (*models.UserProfile, error) {
	if r := validation.ValidateLogin(email, password); !r.Valid {
		return nil, r.Err()
	}
	return m.exchange(ctx, "login", "", "Login successful!", func(ctx context.Context) (*models.ProviderIdentity, error) {
		return m.provider.SignInWithPassword(ctx, email, password)
	})
}

// Register creates the provider account, sets its profile and exchanges it
// with the chosen role.
func (m *Manager) Register(ctx context.Context, email, password, name, photoURL string, role models.Role) (*models.UserProfile, error) {
	if r := validation.ValidateRegistration(email, password, name, photoURL, role); !r.Valid {
		return nil, r.Err()
	}
	return m.exchange(ctx, "register", role, "Registration successful!", func(ctx context.Context) (*models.ProviderIdentity, error) {
		if _, err := m.provider.SignUp(ctx, email, password); err != nil {
			return nil, err
		}
		return m.provider.UpdateProfile(ctx, name, photoURL)
	})
}

// LoginWithProvider signs in through Google or GitHub. open receives the
// provider authorization URL.
func (m *Manager) LoginWithProvider(ctx context.Context, kind models.ProviderKind, open auth.Opener) (*models.UserProfile, error) {
	if kind.ProviderID() == "" {
		return nil, errors.NewValidationError([]errors.FieldError{{
			Field: "provider", Message: "Unsupported sign-in provider", Code: "ENUM",
		}})
	}
	return m.exchange(ctx, "login_"+string(kind), "", "Login successful!", func(ctx context.Context) (*models.ProviderIdentity, error) {
		return m.provider.SignInWithProvider(ctx, kind, open)
	})
}

func (m *Manager) exchange(ctx context.Context, op string, role models.Role, success string, signIn func(context.Context) (*models.ProviderIdentity, error)) (*models.UserProfile, error) {
	seq := m.begin()
	m.enterOwnOp()
	defer m.leaveOwnOp()

	id, err := signIn(ctx)
	if err != nil {
		return nil, m.failExchange(ctx, op, err)
	}

	resp, err := m.backend.Login(ctx, models.NewLoginRequest(id, role))
	if err == nil && resp.User == nil {
		err = errors.NewAuthError("Login failed", nil)
	}
	if err != nil {
		return nil, m.failExchange(ctx, op, err)
	}

	user := resp.User.Clone()
	applied, err := m.commit(ctx, seq, func(ctx context.Context) error {
		return m.tokens.Save(ctx, resp.Token, m.opts.TokenTTL)
	}, func(s *models.Session) {
		s.User = user
	})
	if err != nil {
		return nil, m.failExchange(ctx, op, err)
	}
	if !applied {
		metrics.SessionTransitions.WithLabelValues("superseded").Inc()
		m.logger.Info("discarding superseded sign-in", map[string]interface{}{"operation": op, "seq": seq})
		return nil, errors.NewSessionSupersededError(op)
	}

	metrics.SessionTransitions.WithLabelValues(op).Inc()
	m.logger.Info("signed in", map[string]interface{}{"operation": op, "userId": user.ID, "role": user.Role})
	m.notifier.Success(ctx, success)
	return user.Clone(), nil
}

// failExchange reports a failed sign-in as an AuthError. If nothing has
// resolved the session yet, a background refresh settles it.
func (m *Manager) failExchange(ctx context.Context, op string, err error) error {
	stdErr := errors.Normalize(err)
	if stdErr.Code != errors.ErrCodeAuthFailed && stdErr.Code != errors.ErrCodeValidationFailed {
		stdErr = errors.NewAuthError(errors.UserMessage(stdErr), stdErr)
	}
	m.errs.Report(op, stdErr)
	metrics.SessionTransitions.WithLabelValues(op + "_failed").Inc()
	m.notifier.Error(ctx, stdErr.Message)

	if m.Snapshot().Loading {
		m.refreshInBackground()
	}
	return stdErr
}

// Logout signs out everywhere, best effort, and always clears local state
// unless a later operation already replaced it.
func (m *Manager) Logout(ctx context.Context) error {
	seq := m.begin()
	m.enterOwnOp()
	defer m.leaveOwnOp()

	failed := false
	if err := m.provider.SignOut(ctx); err != nil {
		failed = true
		m.errs.Report("logout_provider", err)
	}
	if err := m.backend.Logout(ctx); err != nil {
		failed = true
		m.errs.Report("logout_backend", err)
	}

	applied, err := m.commit(ctx, seq, m.tokens.Clear, func(s *models.Session) {
		s.User = nil
	})
	if err != nil {
		failed = true
		m.errs.Report("logout_clear_token", err)
		// the token could not be removed; still drop the in-memory user
		applied, _ = m.commit(ctx, seq, nil, func(s *models.Session) { s.User = nil })
	}

	if !applied {
		return errors.NewSessionSupersededError("logout")
	}

	metrics.SessionTransitions.WithLabelValues("logout").Inc()
	if failed {
		m.notifier.Error(ctx, "Logout did not complete on the server")
	} else {
		m.notifier.Success(ctx, "Logged out successfully")
	}
	return nil
}

// HandleUnauthorized is the forced logout run when an authenticated call
// returns 401. A rejected sign-in drops the stale token and session too, but
// its own failure is what the user is told. Logout clears everything on its
// own, so its 401 is left to it.
func (m *Manager) HandleUnauthorized(ctx context.Context, path string) {
	if path == "/auth/logout" {
		return
	}
	signingIn := path == "/auth/login"

	seq := m.begin()
	m.enterOwnOp()
	defer m.leaveOwnOp()

	if err := m.provider.SignOut(ctx); err != nil {
		m.errs.Report("forced_logout_provider", err)
	}
	applied, err := m.commit(ctx, seq, m.tokens.Clear, func(s *models.Session) { s.User = nil })
	if err != nil {
		m.errs.Report("forced_logout_clear_token", err)
		applied, _ = m.commit(ctx, seq, nil, func(s *models.Session) { s.User = nil })
	}
	if !applied {
		return
	}

	metrics.SessionTransitions.WithLabelValues("forced_logout").Inc()
	m.logger.Warn("backend rejected the session token", map[string]interface{}{"path": path})
	if !signingIn {
		m.notifier.Error(ctx, "Your session has expired. Please log in again.")
	}
}

// ==========================
// Passive resolution
// ==========================

// Refresh resolves "who am I" against the backend. Concurrent calls share
// one request; a caller whose ctx ends stops waiting without cancelling it.
func (m *Manager) Refresh(ctx context.Context) (*models.UserProfile, error) {
	ch := m.refreshes.DoChan("refresh", func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.RefreshTimeout)
		defer cancel()
		return m.resolve(callCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		user, _ := res.Val.(*models.UserProfile)
		return user.Clone(), nil
	case <-ctx.Done():
		return nil, errors.Normalize(ctx.Err())
	}
}

func (m *Manager) onAuthStateChanged(id *models.ProviderIdentity) {
	m.mu.Lock()
	skip := m.closed || m.ownOps > 0
	m.mu.Unlock()
	if skip {
		return
	}

	metrics.SessionTransitions.WithLabelValues("provider_change").Inc()
	// a change invalidates any refresh started before it
	m.refreshes.Forget("refresh")
	m.refreshInBackground()
}

func (m *Manager) refreshInBackground() {
	m.mu.Lock()
	if m.closed || m.baseCtx == nil {
		m.mu.Unlock()
		return
	}
	ctx := m.baseCtx
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if _, err := m.Refresh(ctx); err != nil {
			m.logger.Debug("background refresh ended with error", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// resolve asks the backend for the current user. A 401 is the ordinary
// "not logged in" answer and keeps the stored token. The stored token
// stands in for provider persistence across restarts.
func (m *Manager) resolve(ctx context.Context) (*models.UserProfile, error) {
	seq := m.begin()

	id, err := m.provider.CurrentIdentity(ctx)
	if err != nil {
		m.errs.Report("refresh_identity", err)
	}

	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.errs.Report("refresh_token_store", err)
	}

	if id == nil && token == "" {
		m.commit(ctx, seq, nil, func(s *models.Session) { s.User = nil })
		return nil, nil
	}

	user, err := m.backend.Me(ctx)
	switch {
	case err == nil:
		user = user.Clone()
		m.commit(ctx, seq, nil, func(s *models.Session) { s.User = user })
		return user, nil
	case errors.IsUnauthenticated(err):
		m.commit(ctx, seq, nil, func(s *models.Session) { s.User = nil })
		return nil, nil
	default:
		m.errs.Report("refresh", err)
		m.commit(ctx, seq, nil, func(s *models.Session) { s.User = nil })
		return nil, errors.Normalize(err)
	}
}

// ==========================
// Ordering
// ==========================

func (m *Manager) begin() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued++
	return m.issued
}

func (m *Manager) enterOwnOp() {
	m.mu.Lock()
	m.ownOps++
	m.mu.Unlock()
}

func (m *Manager) leaveOwnOp() {
	m.mu.Lock()
	m.ownOps--
	m.mu.Unlock()
}

// commit applies the result of operation seq unless a later-issued
// operation has already applied. persist runs first; if it fails nothing
// is applied.
func (m *Manager) commit(ctx context.Context, seq uint64, persist func(context.Context) error, mutate func(*models.Session)) (bool, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	stale := seq < m.applied
	m.mu.Unlock()
	if stale {
		return false, nil
	}

	if persist != nil {
		if err := persist(ctx); err != nil {
			return false, err
		}
	}

	m.mu.Lock()
	m.applied = seq
	mutate(&m.state)
	m.state.Loading = false
	snap := m.state.Clone()
	first := false
	select {
	case <-m.ready:
	default:
		close(m.ready)
		first = true
	}
	// take the notify lock before releasing the state so subscribers see
	// changes in order
	m.notifyMu.Lock()
	m.mu.Unlock()

	if first {
		m.logger.Debug("session resolved", map[string]interface{}{"authenticated": snap.User != nil})
	}
	for _, fn := range m.subs {
		fn(snap.Clone())
	}
	m.notifyMu.Unlock()

	return true, nil
}
