package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"outsy/pkg/bus"
	"outsy/pkg/telemetry"
	"outsy/services/auth/internal/apperr"
	"outsy/services/auth/internal/audit"
	"outsy/services/auth/internal/config"
	"outsy/services/auth/internal/handlers"
	"outsy/services/auth/internal/session"
)

const authStream = "OUTSY_AUTH"

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			return serve(ctx, cfg, newLogger(cfg))
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	tel, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown otel")
		}
	}()

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	var events *bus.Bus
	var publisher session.Publisher
	if cfg.NATSURL != "" {
		events, err = bus.New(cfg.NATSURL, nats.Name(serviceName))
		if err != nil {
			return err
		}
		defer events.Close()
		events.OnPublishError(func(subject string, err error) {
			log.Warn().Err(err).Str("subject", subject).Msg("auth event not acknowledged")
		})
		if err := events.EnsureStream(authStream, []string{"outsy.auth.>"}); err != nil {
			return err
		}
		publisher = events
	}

	svc, err := newService(cfg, st, publisher, log)
	if err != nil {
		return err
	}

	if cfg.AdminEmail != "" {
		admin, err := svc.Promote(ctx, cfg.AdminEmail)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			log.Warn().Str("email", cfg.AdminEmail).Msg("ADMIN_EMAIL does not match an account yet")
		case err != nil:
			return err
		default:
			log.Info().Str("user_id", admin.ID.String()).Msg("admin account ensured")
		}
	}

	checks := map[string]func(context.Context) error{}
	if events != nil {
		checks["nats"] = func(context.Context) error { return events.Ping() }
	}

	router, err := handlers.Router(handlers.RouterOptions{
		Service:        svc,
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		AuthRateLimit:  cfg.AuthRateLimit,
		Production:     cfg.Production(),
		Middleware:     []func(http.Handler) http.Handler{tel.Middleware},
		ReadyChecks:    checks,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("starting " + serviceName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if interval := cfg.SweepInterval.Std(); interval > 0 {
		g.Go(func() error {
			return runSweeper(gctx, st.vault, interval, log)
		})
	}

	switch {
	case events == nil:
		log.Info().Msg("NATS_URL not set: auth events and audit log disabled")
	case st.orm == nil:
		log.Info().Msg("memory storage driver: audit log disabled")
	default:
		recorder, err := audit.NewRecorder(st.orm, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return recorder.Run(gctx, events)
		})
	}

	return g.Wait()
}
