package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/carebridge/telehealth-booking/internal/api"
	"github.com/carebridge/telehealth-booking/internal/booking"
	"github.com/carebridge/telehealth-booking/internal/cache"
	"github.com/carebridge/telehealth-booking/internal/calltoken"
	"github.com/carebridge/telehealth-booking/internal/config"
	"github.com/carebridge/telehealth-booking/internal/db"
	"github.com/carebridge/telehealth-booking/internal/logging"
	"github.com/carebridge/telehealth-booking/internal/notify"
	"github.com/carebridge/telehealth-booking/internal/records"
	"github.com/carebridge/telehealth-booking/internal/redisclient"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "api-server")
		bootLog.Fatal().Err(err).Msg("config load")
	}

	log := logging.New(cfg.Env, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("close redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	store := cache.New(cfg.CacheTTL)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	tokens := calltoken.New(cfg.CallLinkSecret, cfg.CallLinkBaseURL, cfg.CallLinkGrace)
	scheduler := notify.NewPgScheduler(pgPool)

	bookingSvc := booking.NewService(
		booking.NewPgRepository(pgPool),
		store,
		locker,
		scheduler,
		tokens,
		cfg.ReminderLead,
		log,
	)
	recordsSvc := records.NewService(records.NewPgRepository(pgPool), store, log)

	handler := api.NewRouter(api.RouterConfig{
		Appointments: bookingSvc,
		Records:      recordsSvc,
		PgPool:       pgPool,
		Redis:        rdb,
		AuthSecret:   cfg.AuthSecret,
		Env:          cfg.Env,
		Version:      version,
		Log:          log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
}
