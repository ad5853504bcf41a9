package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebridge/telehealth-booking/internal/config"
	"github.com/carebridge/telehealth-booking/internal/db"
	"github.com/carebridge/telehealth-booking/internal/logging"
	"github.com/carebridge/telehealth-booking/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "reminder-worker")
		bootLog.Fatal().Err(err).Msg("config load")
	}

	log := logging.New(cfg.Env, "reminder-worker")
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("starting up")

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

	dispatcher := notify.NewDispatcher(pgPool, notify.LogSender{Log: log}, log)

	// Run once at startup
	runOnce(rootCtx, dispatcher, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, dispatcher, log)
		}
	}
}

func runOnce(ctx context.Context, dispatcher *notify.Dispatcher, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := dispatcher.DispatchDue(runCtx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("dispatch run")
		return
	}
	log.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("dispatch run complete")
}
