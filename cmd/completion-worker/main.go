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

	"github.com/hackgods/therapy-booking/internal/appointment"
	"github.com/hackgods/therapy-booking/internal/config"
	"github.com/hackgods/therapy-booking/internal/db"
	"github.com/hackgods/therapy-booking/internal/logger"
	"github.com/hackgods/therapy-booking/internal/metrics"
)

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

	log.Info("completion-worker starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, AppName: "completion-worker"})
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	collector := metrics.NewCollector("therapy_worker")
	go serveMetrics(cfg.WorkerMetrics, collector, log)

	svc := appointment.NewService(appointment.NewPgStore(pgPool), nil, log.Named("appointment"))

	// Run once at startup
	runOnce(rootCtx, svc, collector, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, collector, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, c *metrics.Collector, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompleteEndedAppointments(runCtx)
	if err != nil {
		log.Error("completion run failed", zap.Error(err))
		return
	}
	c.CompletedTotal.Add(float64(n))
	log.Info("completion run done", zap.Int("completed", n), zap.Duration("took", time.Since(start)))
}

func serveMetrics(port string, c *metrics.Collector, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics listener stopped", zap.Error(err))
	}
}
