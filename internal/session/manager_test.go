package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"microloan-client/internal/common/auth"
	"microloan-client/internal/common/errors"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/notify"
	"microloan-client/internal/models"
)

// ==========================
// Test doubles
// ==========================

type fakeProvider struct {
	mu         sync.Mutex
	current    *models.ProviderIdentity
	listeners  map[int]func(*models.ProviderIdentity)
	nextID     int
	signInErr  error
	signOutErr error
	profiles   []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: make(map[int]func(*models.ProviderIdentity))}
}

func (f *fakeProvider) set(id *models.ProviderIdentity) {
	f.mu.Lock()
	f.current = id
	fns := make([]func(*models.ProviderIdentity), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(id.Clone())
	}
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*models.ProviderIdentity, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	id := &models.ProviderIdentity{UID: "fb-" + email, Email: email}
	f.set(id)
	return id.Clone(), nil
}

func (f *fakeProvider) SignUp(ctx context.Context, email, password string) (*models.ProviderIdentity, error) {
	return f.SignInWithPassword(ctx, email, password)
}

func (f *fakeProvider) UpdateProfile(ctx context.Context, displayName, photoURL string) (*models.ProviderIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, displayName)
	f.current.DisplayName = displayName
	f.current.PhotoURL = photoURL
	return f.current.Clone(), nil
}

func (f *fakeProvider) SignInWithProvider(ctx context.Context, kind models.ProviderKind, open auth.Opener) (*models.ProviderIdentity, error) {
	if err := open("https://provider.example/authorize?state=s"); err != nil {
		return nil, err
	}
	id := &models.ProviderIdentity{UID: "fb-" + string(kind), Email: "dev@example.com", DisplayName: "Dev", ProviderID: kind.ProviderID()}
	f.set(id)
	return id.Clone(), nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.set(nil)
	return f.signOutErr
}

func (f *fakeProvider) CurrentIdentity(ctx context.Context) (*models.ProviderIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Clone(), nil
}

func (f *fakeProvider) OnAuthStateChanged(fn func(*models.ProviderIdentity)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	cur := f.current.Clone()
	f.mu.Unlock()
	fn(cur)
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*models.AuthResponse)
	return resp, args.Error(1)
}

func (m *mockBackend) Me(ctx context.Context) (*models.UserProfile, error) {
	args := m.Called(ctx)
	u, _ := args.Get(0).(*models.UserProfile)
	return u, args.Error(1)
}

func (m *mockBackend) Logout(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fixture struct {
	provider *fakeProvider
	backend  *mockBackend
	tokens   *MemoryStore
	notes    *notify.Recorder
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		provider: newFakeProvider(),
		backend:  &mockBackend{},
		tokens:   NewMemoryStore(),
		notes:    notify.NewRecorder(),
	}
	f.manager = NewManager(f.provider, f.backend, f.tokens, f.notes, logger.NewTestLogger(t), Options{
		RefreshTimeout: time.Second,
	})
	t.Cleanup(f.manager.Close)
	return f
}

func (f *fixture) startAndWait(t *testing.T) {
	t.Helper()
	f.manager.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.manager.WaitReady(ctx))
}

func borrower() *models.UserProfile {
	return &models.UserProfile{ID: "u1", Email: "rahim@example.com", Name: "rahim", Role: models.RoleBorrower}
}

func token(t *testing.T, s TokenStore) string {
	t.Helper()
	v, err := s.Token(context.Background())
	require.NoError(t, err)
	return v
}

// ==========================
// Passive resolution
// ==========================

func TestStart_NoIdentityNoToken(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.manager.Snapshot().Loading)

	f.startAndWait(t)

	s := f.manager.Snapshot()
	assert.False(t, s.Loading)
	assert.Nil(t, s.User)
	f.backend.AssertNotCalled(t, "Me", mock.Anything)
}

func TestStart_RestoresFromStoredToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Save(context.Background(), "jwt-old", time.Hour))
	f.backend.On("Me", mock.Anything).Return(borrower(), nil).Once()

	f.startAndWait(t)

	s := f.manager.Snapshot()
	assert.True(t, s.Authenticated())
	assert.Equal(t, "u1", s.User.ID)
}

func TestStart_MeUnauthorizedIsNotAnError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Save(context.Background(), "jwt-expired", time.Hour))
	f.backend.On("Me", mock.Anything).Return(nil, errors.NewUnauthenticatedError("/auth/me")).Once()

	f.startAndWait(t)

	assert.Nil(t, f.manager.Snapshot().User)
	assert.Equal(t, "jwt-expired", token(t, f.tokens), "identity check 401 keeps the token")
	assert.Empty(t, f.notes.All())
}

func TestStart_MeFailureSetsUserNil(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Save(context.Background(), "jwt", time.Hour))
	f.backend.On("Me", mock.Anything).Return(nil, errors.NewBackendError(500, "boom")).Once()

	f.startAndWait(t)

	s := f.manager.Snapshot()
	assert.False(t, s.Loading)
	assert.Nil(t, s.User)
	assert.Empty(t, f.notes.Messages(notify.LevelError))
}

func TestRefresh_CoalescesConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Save(context.Background(), "jwt", time.Hour))

	release := make(chan struct{})
	var calls int32
	f.backend.On("Me", mock.Anything).Run(func(mock.Arguments) {
		atomic.AddInt32(&calls, 1)
		<-release
	}).Return(borrower(), nil)

	var wg sync.WaitGroup
	results := make([]*models.UserProfile, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := f.manager.Refresh(context.Background())
			assert.NoError(t, err)
			results[i] = u
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, u := range results {
		require.NotNil(t, u)
		assert.Equal(t, "u1", u.ID)
	}
}

func TestRefresh_CallerMayAbandonWait(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tokens.Save(context.Background(), "jwt", time.Hour))

	release := make(chan struct{})
	f.backend.On("Me", mock.Anything).Run(func(mock.Arguments) { <-release }).Return(borrower(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.manager.Refresh(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeTimeout), "got %v", err)

	close(release)
	u, err := f.manager.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
}

func TestRefresh_RepeatedCallsAgree(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)
	require.NoError(t, f.tokens.Save(context.Background(), "jwt", time.Hour))
	f.backend.On("Me", mock.Anything).Return(borrower(), nil).Twice()

	first, err := f.manager.Refresh(context.Background())
	require.NoError(t, err)
	afterFirst := f.manager.Snapshot()

	second, err := f.manager.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, afterFirst, f.manager.Snapshot())
	assert.Equal(t, "jwt", token(t, f.tokens))
	f.backend.AssertNumberOfCalls(t, "Me", 2)
}

// ==========================
// Login / register
// ==========================

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)

	f.backend.On("Login", mock.Anything, mock.MatchedBy(func(r models.LoginRequest) bool {
		return r.Email == "rahim@example.com" && r.Name == "rahim" && r.Role == "" && r.FirebaseUID == "fb-rahim@example.com"
	})).Return(&models.AuthResponse{Success: true, Token: "jwt-1", User: borrower()}, nil).Once()

	u, err := f.manager.Login(context.Background(), "rahim@example.com", "Secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "jwt-1", token(t, f.tokens))
	assert.True(t, f.manager.Snapshot().Authenticated())
	assert.Equal(t, []string{"Login successful!"}, f.notes.Messages(notify.LevelSuccess))

	f.backend.AssertNotCalled(t, "Me", mock.Anything)
}

func TestLogin_ValidationMakesNoCalls(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Login(context.Background(), "", "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
	f.backend.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
}

func TestLogin_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)
	f.provider.signInErr = errors.NewAuthError("Invalid email or password", nil)

	_, err := f.manager.Login(context.Background(), "rahim@example.com", "wrong")
	stdErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeAuthFailed, stdErr.Code)
	assert.Equal(t, []string{"Invalid email or password"}, f.notes.Messages(notify.LevelError))
	assert.Empty(t, token(t, f.tokens))
}

func TestLogin_BackendFailureIsAuthError(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)
	f.backend.On("Login", mock.Anything, mock.Anything).Return(nil, errors.NewBackendError(500, "db down")).Once()

	_, err := f.manager.Login(context.Background(), "rahim@example.com", "Secret1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeAuthFailed))
	assert.Nil(t, f.manager.Snapshot().User)
	assert.Empty(t, token(t, f.tokens))
}

func TestLogin_SupersededByLogout(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.On("Login", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(&models.AuthResponse{Success: true, Token: "jwt-late", User: borrower()}, nil).Once()
	f.backend.On("Logout", mock.Anything).Return(nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Login(context.Background(), "rahim@example.com", "Secret1")
		done <- err
	}()

	<-entered
	require.NoError(t, f.manager.Logout(context.Background()))
	close(release)

	err := <-done
	assert.True(t, errors.HasCode(err, errors.ErrCodeSessionSuperseded), "got %v", err)
	assert.Empty(t, token(t, f.tokens), "superseded login never persists its token")
	assert.Nil(t, f.manager.Snapshot().User)
}

func TestRegister_ForwardsRoleAndProfile(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)

	manager := &models.UserProfile{ID: "m1", Email: "nadia@example.com", Name: "Nadia", Role: models.RoleManager}
	f.backend.On("Login", mock.Anything, mock.MatchedBy(func(r models.LoginRequest) bool {
		return r.Role == models.RoleManager && r.Name == "Nadia" && r.PhotoURL == "https://img/n.png"
	})).Return(&models.AuthResponse{Success: true, Token: "jwt-m", User: manager}, nil).Once()

	u, err := f.manager.Register(context.Background(), "nadia@example.com", "Secret1", "Nadia", "https://img/n.png", models.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, u.Role)
	assert.Equal(t, []string{"Nadia"}, f.provider.profiles)
	assert.Equal(t, []string{"Registration successful!"}, f.notes.Messages(notify.LevelSuccess))
}

func TestRegister_RejectsAdminRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Register(context.Background(), "a@b.com", "Secret1", "A", "", models.RoleAdmin)
	stdErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeValidationFailed, stdErr.Code)
	assert.Equal(t, "role", stdErr.Fields[0].Field)
}

func TestLoginWithProvider(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)
	f.backend.On("Login", mock.Anything, mock.MatchedBy(func(r models.LoginRequest) bool {
		return r.FirebaseUID == "fb-github" && r.Role == ""
	})).Return(&models.AuthResponse{Success: true, Token: "jwt-gh", User: borrower()}, nil).Once()

	var opened string
	_, err := f.manager.LoginWithProvider(context.Background(), models.ProviderGitHub, func(u string) error {
		opened = u
		return nil
	})
	require.NoError(t, err)
	assert.Contains(t, opened, "authorize")
	assert.Equal(t, "jwt-gh", token(t, f.tokens))

	_, err = f.manager.LoginWithProvider(context.Background(), "myspace", func(string) error { return nil })
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

// ==========================
// Logout
// ==========================

func TestLogout_ClearsEvenWhenBackendFails(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)
	f.backend.On("Login", mock.Anything, mock.Anything).Return(&models.AuthResponse{Success: true, Token: "jwt", User: borrower()}, nil).Once()
	_, err := f.manager.Login(context.Background(), "rahim@example.com", "Secret1")
	require.NoError(t, err)

	f.backend.On("Logout", mock.Anything).Return(errors.NewNetworkError("POST /auth/logout", nil)).Once()

	require.NoError(t, f.manager.Logout(context.Background()))
	assert.Nil(t, f.manager.Snapshot().User)
	assert.Empty(t, token(t, f.tokens))
	assert.NotEmpty(t, f.notes.Messages(notify.LevelError))
}

func TestHandleUnauthorized_ForcesLogout(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)
	f.backend.On("Login", mock.Anything, mock.Anything).Return(&models.AuthResponse{Success: true, Token: "jwt", User: borrower()}, nil).Once()
	_, err := f.manager.Login(context.Background(), "rahim@example.com", "Secret1")
	require.NoError(t, err)

	f.manager.HandleUnauthorized(context.Background(), "/auth/logout")
	assert.NotNil(t, f.manager.Snapshot().User, "logout 401s are left to Logout")

	f.manager.HandleUnauthorized(context.Background(), "/applications/my-applications")
	assert.Nil(t, f.manager.Snapshot().User)
	assert.Empty(t, token(t, f.tokens))
}

func TestHandleUnauthorized_RejectedLoginDropsStaleToken(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t)
	f.backend.On("Login", mock.Anything, mock.Anything).Return(&models.AuthResponse{Success: true, Token: "jwt", User: borrower()}, nil).Once()
	_, err := f.manager.Login(context.Background(), "rahim@example.com", "Secret1")
	require.NoError(t, err)

	f.backend.On("Login", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			f.manager.HandleUnauthorized(args.Get(0).(context.Context), "/auth/login")
		}).
		Return(nil, errors.NewUnauthenticatedError("/auth/login")).Once()

	_, err = f.manager.Login(context.Background(), "karim@example.com", "Secret1")
	require.Error(t, err)

	assert.Nil(t, f.manager.Snapshot().User)
	assert.Empty(t, token(t, f.tokens))
	assert.NotContains(t, f.notes.Messages(notify.LevelError), "Your session has expired. Please log in again.")
	assert.Len(t, f.notes.Messages(notify.LevelError), 1)
}

// ==========================
// Subscriptions
// ==========================

func TestSubscribe_ReceivesStatesInOrder(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen []models.Session
	unsubscribe := f.manager.Subscribe(func(s models.Session) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	f.startAndWait(t)
	f.backend.On("Login", mock.Anything, mock.Anything).Return(&models.AuthResponse{Success: true, Token: "jwt", User: borrower()}, nil).Once()
	_, err := f.manager.Login(context.Background(), "rahim@example.com", "Secret1")
	require.NoError(t, err)

	unsubscribe()
	unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[1].Loading)
	assert.Nil(t, seen[1].User)
	assert.Equal(t, "u1", seen[2].User.ID)
}
