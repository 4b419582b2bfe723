package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-engine/internal/api"
	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/availability"
	"github.com/hackgods/clinic-appointment-engine/internal/booking"
	"github.com/hackgods/clinic-appointment-engine/internal/config"
	"github.com/hackgods/clinic-appointment-engine/internal/db"
	"github.com/hackgods/clinic-appointment-engine/internal/logger"
	redisclient "github.com/hackgods/clinic-appointment-engine/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	lg := logger.Init("api-server", cfg.Env, cfg.LogLevel)
	lg.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("timezone", cfg.ClinicTimezone).
		Str("invoice_policy", string(cfg.InvoicePolicy)).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns)
	if err == nil {
		err = db.ApplySchema(pgCtx, pgPool)
	}
	cancelPg()
	if err != nil {
		lg.Fatal().Err(err).Msg("postgres setup error")
	}
	defer pgPool.Close()
	lg.Info().Msg("connected to Postgres")

	// Connect Redis, optional
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		lg.Fatal().Err(err).Msg("redis connection error")
	}

	var (
		locker   redisclient.Locker
		cache    availability.MonthCache
		notifier appointment.ChangeNotifier
	)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Error().Err(err).Msg("error closing redis")
			}
		}()
		availCache := redisclient.NewAvailabilityCache(rdb, cfg.CacheTTL)
		locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL, cfg.LockWait)
		cache = availCache
		notifier = availCache
		lg.Info().Msg("connected to Redis")
	} else {
		lg.Warn().Msg("redis disabled, running without doctor lock and availability cache")
	}

	lunch, err := availability.ParseWindow(cfg.LunchStart, cfg.LunchEnd)
	if err != nil {
		lg.Fatal().Err(err).Msg("invalid lunch window")
	}
	loc := cfg.Location()

	store := appointment.NewPgStore(pgPool)
	handler := api.NewRouter(api.RouterConfig{
		Booking: booking.NewCoordinator(store, locker, notifier, booking.Settings{
			Location:   loc,
			Lunch:      lunch,
			TaxRateBPS: cfg.TaxRateBPS,
		}),
		Availability: availability.NewService(store, lunch, loc, cache),
		Appointments: appointment.NewManager(store, cfg.InvoicePolicy, notifier),
		Location:     loc,
		DB:           pgPool,
		Redis:        rdb,
		Logger:       lg,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			lg.Error().Err(err).Msg("http server failed")
		}
	}

	lg.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("graceful shutdown failed")
	}
}
