package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ai-hotline/internal/audit"
	"ai-hotline/internal/auth"
	"ai-hotline/internal/callflow"
	"ai-hotline/internal/calls"
	"ai-hotline/internal/config"
	"ai-hotline/internal/events"
	"ai-hotline/internal/reporting"
	"ai-hotline/internal/session"
	"ai-hotline/internal/telephony"
	"ai-hotline/pkg/logger"
	"ai-hotline/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	zap.ReplaceGlobals(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("api exited", zap.Error(err))
		_ = logger.ShutdownFlush(context.Background(), log, 2*time.Second)
		os.Exit(1)
	}
}

// infra holds process-wide connections. Nil members are not configured.
type infra struct {
	db   *sql.DB
	rdb  *redis.Client
	nats *events.NATSClient
}

func (i infra) close() {
	if i.nats != nil {
		i.nats.Close()
	}
	if i.rdb != nil {
		_ = i.rdb.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func openInfra(ctx context.Context, cfg config.Config, log *zap.Logger) (infra, error) {
	var in infra
	if cfg.UsesPostgres() {
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return in, fmt.Errorf("postgres init: %w", err)
		}
		in.db = db

		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			in.close()
			return infra{}, fmt.Errorf("redis init: %w", err)
		}
		in.rdb = rdb
	}

	if cfg.NATS.URL != "" {
		nc, err := events.ConnectNATS(ctx, events.NATSConfig{URL: cfg.NATS.URL, Token: cfg.NATS.Token}, log)
		if err != nil {
			in.close()
			return infra{}, fmt.Errorf("nats init: %w", err)
		}
		if err := nc.EnsureStream(ctx, cfg.NATS.StreamMaxAge); err != nil {
			nc.Close()
			in.close()
			return infra{}, fmt.Errorf("nats stream: %w", err)
		}
		in.nats = nc
	}
	return in, nil
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, log *zap.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	in, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.close()

	var (
		callRepo  calls.Repository
		auditRepo audit.Repository
		limiter   callflow.Limiter
		storeType = session.StoreMemory
	)
	if in.db != nil {
		callRepo = calls.NewPostgresRepo(in.db)
		auditRepo = audit.NewPostgresRepo(in.db)
		limiter = callflow.NewRedisLimiter(in.rdb, cfg.Session.TenantLiveLimit, cfg.Session.StoreTTL)
		storeType = session.StoreRedis
	} else {
		callRepo = calls.NewMemoryRepo()
		auditRepo = audit.NewMemoryRepo()
		limiter = callflow.NewMemoryLimiter(cfg.Session.TenantLiveLimit)
	}
	store, err := session.NewStore(storeType, session.WithRedisClient(in.rdb), session.WithTTL(cfg.Session.StoreTTL))
	if err != nil {
		return err
	}
	auditSvc := audit.NewService(auditRepo)

	// The carrier hangup sink needs the call-flow service, which needs the sink.
	var hangup events.Sink
	sinks := []events.Sink{
		events.NewLogSink(log),
		events.MetricsSink{},
		events.NewAuditSink(auditSvc),
		events.SinkFunc(func(ctx context.Context, e events.Event) error {
			if hangup == nil {
				return nil
			}
			return hangup.Publish(ctx, e)
		}),
	}
	if in.nats != nil {
		sinks = append(sinks, events.NewNATSSink(in.nats))
	}
	sink := events.NewFanout(log, sinks...)

	sessions := session.NewManager(store, sink, log, session.ManagerConfig{
		MaxSilence:   cfg.Session.MaxSilence,
		MaxDuration:  cfg.Session.MaxDuration,
		LanguageCode: cfg.Session.LanguageCode,
	})
	flow := callflow.NewService(callRepo, sessions, sink, log, callflow.Config{Limiter: limiter})

	twilio := telephony.NewTwilioProvider(flow, telephony.TwilioConfig{
		AccountSID:    cfg.Twilio.AccountSID,
		AuthToken:     cfg.Twilio.AuthToken,
		StreamURL:     cfg.Twilio.MediaStreamURL,
		NumberTenants: cfg.Twilio.NumberTenants,
	}, log)
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		hangup = telephony.NewHangupSink(twilio, flow.GetCall, log)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	deps := routeDeps{
		cfg:      cfg,
		infra:    in,
		auth:     authManager,
		flow:     flow,
		audit:    auditSvc,
		reports:  reporting.NewService(callRepo, flow),
		twilio:   twilio,
		validate: telephony.NewSignatureValidator(cfg.Twilio.AuthToken),
	}
	registerPublicRoutes(r, deps)
	registerAuthRoutes(r, deps)
	registerProtectedRoutes(r, deps, auth.RequireAccessToken(authManager))

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		flow.RunSweeper(sweepCtx, cfg.Session.SweepInterval)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("storage", cfg.App.Storage),
			zap.Bool("nats", in.nats != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	stopSweep()
	<-sweepDone

	_ = logger.ShutdownFlush(shutdownCtx, log, 2*time.Second)
	return nil
}
