// internal/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"microloan-client/internal/common/auth"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/notify"
	"microloan-client/internal/common/observability"
	"microloan-client/internal/guard"
	"microloan-client/internal/models"
	"microloan-client/internal/views"
	"microloan-client/pkg/registry"
)

// LoginPath is where unauthenticated callers are sent.
const LoginPath = "/login"

// Sessions is the session manager as the server uses it.
type Sessions interface {
	Snapshot() models.Session
	Subscribe(fn func(models.Session)) func()
	Login(ctx context.Context, email, password string) (*models.UserProfile, error)
	Register(ctx context.Context, email, password, name, photoURL string, role models.Role) (*models.UserProfile, error)
	LoginWithProvider(ctx context.Context, kind models.ProviderKind, open auth.Opener) (*models.UserProfile, error)
	Logout(ctx context.Context) error
}

// CallbackCompleter receives OAuth redirects.
type CallbackCompleter interface {
	Complete(kind models.ProviderKind, state, code, oauthErr string) error
}

type Deps struct {
	Routes        *registry.RouteTable
	Sessions      Sessions
	Views         *views.Views
	OAuth         CallbackCompleter
	Notifications *notify.Queue
	Observer      *observability.Observability
	Logger        logger.Logger
}

type Options struct {
	Address      string
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ProviderLoginTimeout bounds a Google or GitHub login from start to
	// callback.
	ProviderLoginTimeout time.Duration
}

// Server is the local dashboard API. Every route comes from the route table
// and is guarded by its access requirement.
type Server struct {
	engine   *gin.Engine
	http     *http.Server
	routes   *registry.RouteTable
	sessions Sessions
	views    *views.Views
	oauth    CallbackCompleter
	queue    *notify.Queue
	logger   logger.Logger
	opts     Options

	loginsMu sync.Mutex
	logins   map[string]chan loginResult
}

func New(deps Deps, opts Options) (*Server, error) {
	if deps.Routes == nil {
		return nil, fmt.Errorf("route table is required")
	}
	if deps.Sessions == nil || deps.Views == nil {
		return nil, fmt.Errorf("sessions and views are required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if deps.Notifications == nil {
		deps.Notifications = notify.NewQueue(0, nil)
	}
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.ProviderLoginTimeout <= 0 {
		opts.ProviderLoginTimeout = 2 * time.Minute
	}

	s := &Server{
		engine:   gin.New(),
		routes:   deps.Routes,
		sessions: deps.Sessions,
		views:    deps.Views,
		oauth:    deps.OAuth,
		queue:    deps.Notifications,
		logger:   log.With(map[string]interface{}{"component": "server"}),
		opts:     opts,
		logins:   make(map[string]chan loginResult),
	}
	s.engine.Use(recoveryMiddleware(s.logger), requestLogger(s.logger, deps.Observer))
	if err := s.mount(); err != nil {
		return nil, err
	}

	s.http = &http.Server{
		Addr:         opts.Address,
		Handler:      s.engine,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s, nil
}

// mount registers every route of the table. A route without a handler is a
// configuration error.
func (s *Server) mount() error {
	handlers := s.handlers()
	for _, r := range s.routes.Routes {
		h, ok := handlers[r.ID]
		if !ok {
			return fmt.Errorf("no handler for route %q", r.ID)
		}
		req, err := guard.ParseRequirement(r.Access)
		if err != nil {
			return fmt.Errorf("route %q: %w", r.ID, err)
		}
		s.engine.Handle(r.HTTPMethod(), r.Path, guardMiddleware(s.sessions, req), h)
	}
	s.engine.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "NOT_FOUND", "Page not found")
	})
	return nil
}

func (s *Server) handlers() map[string]gin.HandlerFunc {
	return map[string]gin.HandlerFunc{
		"home":         s.home,
		"all-loans":    s.allLoans,
		"loan-details": s.loanDetails,
		"apply-form":   s.applyForm,
		"apply-submit": s.applySubmit,

		"auth-login":    s.login,
		"auth-register": s.register,
		"auth-provider": s.providerLogin,
		"auth-callback": s.providerCallback,
		"auth-logout":   s.logout,

		"dashboard": s.dashboard,

		"manage-users":      s.manageUsers,
		"change-role":       s.changeRole,
		"suspend-user":      s.suspendUser,
		"activate-user":     s.activateUser,
		"admin-loans":       s.adminLoans,
		"toggle-home":       s.toggleHome,
		"admin-delete-loan": s.deleteLoan,
		"loan-applications": s.loanApplications,

		"add-loan-form":       s.addLoanForm,
		"add-loan":            s.addLoan,
		"manage-loans":        s.manageLoans,
		"delete-loan":         s.deleteLoan,
		"pending-loans":       s.pendingLoans,
		"approve-application": s.approve,
		"reject-application":  s.reject,
		"approved-loans":      s.approvedLoans,
		"manager-profile":     s.profile,

		"my-loans":           s.myLoans,
		"cancel-application": s.cancelApplication,
		"pay-fee":            s.payFee,
		"payment-details":    s.paymentDetails,
		"my-profile":         s.profile,

		"session":        s.session,
		"notifications":  s.notifications,
		"session-stream": s.sessionStream,
		"healthz":        s.healthz,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("dashboard API listening", map[string]interface{}{"address": s.opts.Address})
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard API: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
