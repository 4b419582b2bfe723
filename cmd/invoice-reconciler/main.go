package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/config"
	"github.com/hackgods/clinic-appointment-engine/internal/db"
	"github.com/hackgods/clinic-appointment-engine/internal/logger"
)

const batchSize = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	lg := logger.Init("invoice-reconciler", cfg.Env, cfg.LogLevel)
	lg.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Str("invoice_policy", string(cfg.InvoicePolicy)).
		Msg("invoice reconciler starting up")

	if cfg.InvoicePolicy == config.InvoiceRetain {
		lg.Info().Msg("invoice policy is retain, nothing to reconcile")
		return
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = lg.WithContext(rootCtx)

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns)
	cancelPg()
	if err != nil {
		lg.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	lg.Info().Msg("connected to Postgres")

	svc := appointment.NewManager(appointment.NewPgStore(pgPool), cfg.InvoicePolicy, nil)

	// Run once at startup
	runOnce(rootCtx, svc)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			lg.Info().Msg("shutdown signal received, stopping invoice reconciler")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Manager) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	voided, err := svc.ReconcileInvoices(runCtx, batchSize)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("reconcile run error")
		return
	}
	zerolog.Ctx(ctx).Info().
		Int("voided", voided).
		Dur("took", time.Since(start)).
		Msg("reconcile run complete")
}
