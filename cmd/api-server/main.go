package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/therapy-booking/internal/api"
	"github.com/hackgods/therapy-booking/internal/appointment"
	"github.com/hackgods/therapy-booking/internal/auth"
	"github.com/hackgods/therapy-booking/internal/config"
	"github.com/hackgods/therapy-booking/internal/db"
	"github.com/hackgods/therapy-booking/internal/logger"
	"github.com/hackgods/therapy-booking/internal/metrics"
	"github.com/hackgods/therapy-booking/internal/notify"
	"github.com/hackgods/therapy-booking/internal/payment"
	redisclient "github.com/hackgods/therapy-booking/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))
	if cfg.SessionSecretGenerated {
		log.Warn("SESSION_SECRET not set, using a random per-process secret; tokens will not survive a restart")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConn, AppName: "api-server"})
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	if cfg.MigrateOnStart {
		applied, err := db.Migrate(rootCtx, pgPool)
		if err != nil {
			return err
		}
		log.Info("migrations applied", zap.Int("count", applied))
	}

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "api-server")
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	collector := metrics.NewCollector("therapy")

	var locker redisclient.Locker = redisclient.NoopLocker{}
	if cfg.LockEnabled {
		locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL, cfg.LockWait)
	}
	svc := appointment.NewService(appointment.NewPgStore(pgPool), locker, log.Named("appointment")).
		WithObserver(collector)

	var payments payment.Gateway = payment.Disabled{}
	if cfg.StripeSecretKey != "" {
		payments = payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL)
	} else {
		log.Info("stripe checkout disabled")
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.RabbitMQURL != "" {
		n, closeMQ, err := notify.Dial(cfg.RabbitMQURL, cfg.EmailQueue)
		if err != nil {
			return err
		}
		defer func() { _ = closeMQ() }()
		notifier = n
		log.Info("connected to RabbitMQ", zap.String("queue", cfg.EmailQueue))
	} else {
		log.Info("email jobs disabled")
	}

	var limiter api.Limiter
	if cfg.RateLimit > 0 {
		limiter = redisclient.NewSlidingWindowLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "rl:api")
	}

	health := api.NewHealthHandler(
		pgPool.Ping,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		cfg.Env, version,
	)

	router := api.NewRouter(api.RouterConfig{
		Handler:     api.NewHandler(svc, payments, notifier, log.Named("api")),
		Health:      health,
		Verifier:    auth.NewManager(cfg.SessionSecret, time.Hour),
		Limiter:     limiter,
		Metrics:     collector,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      log.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
