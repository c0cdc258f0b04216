package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	metricsadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/metrics"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

// storage is the per-driver wiring the runtime needs from a backend.
type storage struct {
	ledger  ports.Ledger
	outbox  ports.OutboxRepository
	limiter ports.RateLimiter
	ready   func(ctx context.Context) error
	closeFn func()
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping m91 license service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage_driver", cfg.StorageDriver,
	)

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		store.closeFn()
		return nil, err
	}

	metrics := metricsadapter.New()
	svc := application.NewService(application.Dependencies{
		Config:  application.Config{ServiceName: cfg.ServiceID},
		Ledger:  store.ledger,
		Limiter: store.limiter,
		Metrics: metrics,
	})

	handler := httpadapter.NewHandler(httpadapter.Dependencies{
		Service:  svc,
		Verifier: verifier,
		Metrics:  metrics,
		Ready:    store.ready,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcadapter.UnaryObservability(metrics)))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewLicenseRegistryServer(svc, verifier))

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	closePublisher := func() {}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics)
		if err != nil {
			store.closeFn()
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		publisher = kafkaPub
		closePublisher = func() { _ = kafkaPub.Close() }
	} else {
		logger.Warn("no kafka brokers configured; outbox events are logged only")
	}

	outbox := eventadapter.NewOutboxWorker(logger, store.outbox, publisher, eventadapter.OutboxWorkerConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		outbox:     outbox,
		cleanupFn: func(context.Context) {
			closePublisher()
			store.closeFn()
		},
	}, nil
}

func openStorage(ctx context.Context, cfg Config) (storage, error) {
	limits := func() map[string]memory.Limit {
		return map[string]memory.Limit{
			"license_create": {Limit: cfg.CreateRateLimit, Window: cfg.RateLimitWindow},
			"license_revoke": {Limit: cfg.RevokeRateLimit, Window: cfg.RateLimitWindow},
		}
	}

	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return storage{}, fmt.Errorf("connect postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return storage{}, fmt.Errorf("gorm sql db: %w", err)
		}
		if err := postgres.RunMigrations(ctx, db); err != nil {
			_ = sqlDB.Close()
			return storage{}, fmt.Errorf("run migrations: %w", err)
		}
		store := storage{
			ledger:  postgres.NewLedger(db, cfg.LedgerMaxAttempts),
			outbox:  postgres.NewOutboxRepository(db),
			limiter: memory.NewRateLimiter(limits()),
			ready:   func(ctx context.Context) error { return postgres.Ping(ctx, db) },
			closeFn: func() { _ = sqlDB.Close() },
		}
		// A configured redis shares rate limit windows across replicas.
		if cfg.RedisURL != "" {
			client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
			if err != nil {
				_ = sqlDB.Close()
				return storage{}, fmt.Errorf("connect redis: %w", err)
			}
			store.limiter = cacheadapter.NewRateLimiter(client, cfg.RedisKeyPrefix, redisLimits(limits()))
			store.closeFn = func() {
				_ = client.Close()
				_ = sqlDB.Close()
			}
		}
		return store, nil

	case StorageDriverRedis:
		client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return storage{}, fmt.Errorf("connect redis: %w", err)
		}
		return storage{
			ledger: cacheadapter.NewLedger(client, cacheadapter.LedgerConfig{
				KeyPrefix:   cfg.RedisKeyPrefix,
				MaxAttempts: cfg.LedgerMaxAttempts,
			}),
			outbox:  cacheadapter.NewOutboxRepository(client, cfg.RedisKeyPrefix),
			limiter: cacheadapter.NewRateLimiter(client, cfg.RedisKeyPrefix, redisLimits(limits())),
			ready:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
			closeFn: func() { _ = client.Close() },
		}, nil

	default:
		ledger := memory.NewLedger(nil, cfg.LedgerMaxAttempts)
		return storage{
			ledger:  ledger,
			outbox:  ledger.Outbox(),
			limiter: memory.NewRateLimiter(limits()),
			closeFn: func() {},
		}, nil
	}
}

func redisLimits(in map[string]memory.Limit) map[string]cacheadapter.Limit {
	out := make(map[string]cacheadapter.Limit, len(in))
	for bucket, l := range in {
		out[bucket] = cacheadapter.Limit{Limit: l.Limit, Window: l.Window}
	}
	return out
}

func newVerifier(cfg Config, logger *slog.Logger) (ports.IdentityVerifier, error) {
	if cfg.JWTPublicKeyPEM != "" {
		verifier, err := security.NewJWTVerifier(cfg.JWTPublicKeyPEM, cfg.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("init jwt verifier: %w", err)
		}
		return verifier, nil
	}
	logger.Warn("using ephemeral JWT keys for local/dev runtime")
	issuer, err := security.NewEphemeralTokenIssuer("", cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("init ephemeral jwt issuer: %w", err)
	}
	return issuer.Verifier(), nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	// The memory outbox lives in this process, so drain it here.
	if r.cfg.StorageDriver == StorageDriverMemory {
		go func() {
			if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox worker: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.cleanupFn(context.Background())

	if r.cfg.StorageDriver == StorageDriverMemory {
		return fmt.Errorf("outbox worker needs shared storage; memory driver drains inside the api process")
	}
	r.logger.Info("outbox worker started",
		"poll_interval", r.cfg.OutboxPollInterval.String(),
		"batch_size", r.cfg.OutboxBatchSize,
	)
	err := r.outbox.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
