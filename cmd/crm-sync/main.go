package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsecrm/realtime/internal/app/clientstate"
	"github.com/pulsecrm/realtime/internal/app/crmapi"
	"github.com/pulsecrm/realtime/internal/app/preferences"
	"github.com/pulsecrm/realtime/internal/app/syncapi"
	"github.com/pulsecrm/realtime/internal/app/syncengine"
	"github.com/pulsecrm/realtime/internal/config"
	"github.com/pulsecrm/realtime/internal/navigation"
	platformauth "github.com/pulsecrm/realtime/internal/platform/auth"
	"github.com/pulsecrm/realtime/internal/platform/dbpool"
	"github.com/pulsecrm/realtime/internal/platform/metrics"
	"github.com/pulsecrm/realtime/internal/platform/natsutil"
	"github.com/pulsecrm/realtime/internal/platform/wsutil"
	"github.com/pulsecrm/realtime/internal/realtime"
	"github.com/pulsecrm/realtime/internal/reconcile"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	cfg := config.FromEnv()

	cmd := &cobra.Command{
		Use:   "crm-sync",
		Short: "Keep a local CRM view in sync with the realtime channel",
		Long: `crm-sync signs in to the CRM realtime channel, applies contact, task and
notification events to a local view and serves that view over a small HTTP API.`,
		Example: `  crm-sync --transport websocket --socket-url ws://localhost:4000/realtime
  crm-sync --apply-policy refetch --token "$CRM_TOKEN"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(*cobra.Command, []string) error {
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := cfg.Logger(os.Stderr)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, log); err != nil {
				log.Error().Err(err).Msg("crm-sync stopped")
				return err
			}
			return nil
		},
	}
	cfg.BindFlags(cmd)
	return cmd
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	dialer, err := newDialer(cfg)
	if err != nil {
		return err
	}

	pending, prefRepo, closeDB, err := openClientState(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	api, err := crmapi.New(cfg.APIURL, crmapi.Options{
		Timeout:     cfg.APITimeout,
		SyncTimeout: cfg.CalendarTimeout,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	metrics.RegisterRuntime(reg)
	syncMetrics := syncengine.NewMetrics(reg)

	var manager *realtime.Manager
	manager = realtime.NewManager(dialer, realtime.Options{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		Logger:            log,
		OnStateChange: func(state realtime.State) {
			syncMetrics.ObserveState(state, manager.RetryCount())
			log.Info().Str("state", string(state)).Msg("realtime connection state")
		},
	})
	defer manager.Teardown()

	store := reconcile.NewStore()
	navigator := navigation.NewCoordinator(store, pending, navigation.Options{
		HighlightFor: cfg.HighlightFor,
		Logger:       log,
	})
	defer navigator.Close()
	prefs := preferences.NewStore(prefRepo, log)

	engine, err := syncengine.NewService(store, syncengine.Options{
		Policy:      syncengine.Policy(cfg.ApplyPolicy),
		Source:      api,
		Emitter:     manager,
		Preferences: prefs,
		Navigator:   navigator,
		Metrics:     syncMetrics,
		Logger:      log,
		ToastLimit:  cfg.ToastLimit,
	})
	if err != nil {
		return err
	}
	defer engine.Close()
	unmount := manager.Mount(engine.Mount)
	defer unmount()

	handler := syncapi.NewHandler(manager, engine, store, navigator)
	handler.Preferences = prefs
	handler.API = api
	handler.Auth = platformauth.NewManager(cfg.JWTSecret, 0)
	handler.Metrics = reg.Handler()
	handler.AllowedOrigin = cfg.AllowedOrigin
	handler.Logger = log.With().Str("component", "syncapi").Logger()

	if cfg.Token != "" {
		if _, err := handler.SignIn(ctx, cfg.Token, ""); err != nil {
			return fmt.Errorf("sign in with configured token: %w", err)
		}
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Calendar sync may legitimately run for minutes.
		WriteTimeout: cfg.CalendarTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().
		Str("addr", cfg.Addr).
		Str("transport", cfg.Transport).
		Str("workspace", cfg.Workspace).
		Str("policy", cfg.ApplyPolicy).
		Msg("crm-sync listening")
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

func newDialer(cfg config.Config) (realtime.Dialer, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		return natsutil.Dialer{URL: cfg.NATSURL, Workspace: cfg.Workspace, Name: "crm-sync"}, nil
	case config.TransportWebSocket:
		return wsutil.Dialer{URL: cfg.SocketURL}, nil
	case config.TransportMemory:
		return &realtime.MemoryDialer{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalidConfig, cfg.Transport)
	}
}

// openClientState picks Postgres when a database URL is configured and process memory otherwise.
func openClientState(ctx context.Context, cfg config.Config, log zerolog.Logger) (navigation.PendingStore, preferences.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("no database configured; pending links and preferences live in memory")
		return navigation.NewMemoryPendingStore(cfg.PendingTTL), preferences.NewMemoryRepository(), func() {}, nil
	}

	pool, err := dbpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	repo := clientstate.NewRepository(pool, cfg.PendingTTL)
	if err := waitForSchema(ctx, repo, 30*time.Second, log); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return repo, repo, pool.Close, nil
}

func waitForSchema(ctx context.Context, repo *clientstate.Repository, timeout time.Duration, log zerolog.Logger) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repo.EnsureSchema(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Msg("waiting for client state schema")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return lastErr
}
