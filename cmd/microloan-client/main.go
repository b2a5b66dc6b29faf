// cmd/microloan-client/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"microloan-client/internal/api"
	"microloan-client/internal/common/auth"
	"microloan-client/internal/common/config"
	"microloan-client/internal/common/database"
	commonhttp "microloan-client/internal/common/http"
	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/notify"
	"microloan-client/internal/common/observability"
	"microloan-client/internal/common/payment"
	"microloan-client/internal/server"
	"microloan-client/internal/session"
	"microloan-client/internal/views"
	"microloan-client/internal/workflows/application"
	"microloan-client/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func main() {
	bootLog := logger.New("info", "console", "stderr")

	cfg, err := loadConfig()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting microloan client",
		zap.String("environment", cfg.App.Environment),
		zap.String("backend", cfg.Backend.BaseURL),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()
	if cfg.Tracing.Enabled {
		if err := obs.EnableTracing(cfg.App.Name, cfg.Tracing.JaegerEndpoint, cfg.Tracing.SampleRatio); err != nil {
			zapLog.Warn("tracing disabled", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Token store ---
	var tokens session.TokenStore
	switch cfg.Session.Store {
	case "redis":
		var rc *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rc, err = database.NewRedis(ctx, cfg.Database.Redis)
			return err
		}, 5, time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rc.Close()
		tokens = session.NewRedisStore(rc.Client, cfg.Session.RedisKeyPrefix, cfg.Session.Profile)
		zapLog.Info("Session tokens kept in Redis", zap.String("profile", cfg.Session.Profile))
	case "memory":
		tokens = session.NewMemoryStore()
	default:
		tokens = session.NewCookieStore(cfg.Session.FilePath, cfg.Session.CookieName)
	}

	// --- Payment journal ---
	var journal application.Journal
	if cfg.Database.Postgres.Enabled {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(ctx, cfg.Database.Postgres)
			return err
		}, 5, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()

		pj := application.NewPostgresJournal(pg, log)
		if err := pj.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("payment journal schema failed", zap.Error(err))
		}
		journal = pj
		zapLog.Info("Payment journal enabled")
	}

	// --- Clients ---
	queue := notify.NewQueue(100, notify.NewLogNotifier(log))

	transport := commonhttp.NewBackendClient(cfg.Backend.BaseURL, config.GetDuration(cfg.Backend.Timeout), tokens, log)
	client := api.New(transport)

	flow := auth.NewOAuthFlow(cfg.OAuth, nil)
	provider := auth.NewFirebaseProvider(cfg.Firebase, flow, log)

	sessions := session.NewManager(provider, client.Auth, tokens, queue, log, session.Options{
		TokenTTL:       cfg.Session.TTL(),
		RefreshTimeout: config.GetDuration(cfg.Backend.Timeout),
	})
	transport.SetUnauthorizedHandler(sessions.HandleUnauthorized)
	sessions.Start(ctx)
	defer sessions.Close()

	workflow := application.New(client.Applications, payment.NewStripeClient(cfg.Stripe, log), journal, queue, log)
	pages := views.New(client, workflow, queue, log)

	routes, err := registry.Default()
	if err != nil {
		zapLog.Fatal("route table invalid", zap.Error(err))
	}

	srv, err := server.New(server.Deps{
		Routes:        routes,
		Sessions:      sessions,
		Views:         pages,
		OAuth:         flow,
		Notifications: queue,
		Observer:      obs,
		Logger:        log,
	}, server.Options{
		Address:              cfg.Server.Address,
		Mode:                 cfg.Server.Mode,
		ReadTimeout:          config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout:         config.GetDuration(cfg.Server.WriteTimeout),
		ProviderLoginTimeout: config.GetDuration(cfg.OAuth.LoginTimeout),
	})
	if err != nil {
		zapLog.Fatal("server setup failed", zap.Error(err))
	}

	go func() {
		if err := srv.Start(); err != nil {
			zapLog.Error("dashboard API failed", zap.Error(err))
			stop()
		}
	}()

	// --- Health & Metrics Server ---
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":        "healthy",
				"authenticated": sessions.Snapshot().Authenticated(),
				"time":          time.Now().Format(time.RFC3339),
			})
		})
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}

		go func() {
			zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zapLog.Error("Health/Metrics server failed", zap.Error(err))
			}
		}()
	}

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping dashboard API", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("Error stopping metrics server", zap.Error(err))
		}
	}

	zapLog.Info("Microloan client stopped gracefully")
}
