package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"finesync/internal/auth"
	"finesync/internal/config"
	"finesync/internal/db"
	"finesync/internal/fines"
	httpx "finesync/internal/http"
	"finesync/internal/logger"
	"finesync/internal/synctask"
)

const purgeAge = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("production")
		l.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.Env)

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connect")
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal().Err(err).Msg("database migrate")
	}

	queue := synctask.NewQueue(gdb, log, cfg.WorkerID, cfg.MaxAttempts)
	fineStore := fines.NewStore(gdb, log)
	client := synctask.NewOffenceClient(cfg.OffenceAPIURL, log)
	proc := synctask.NewProcessor(queue, fineStore, client, synctask.ProcessorConfig{
		BatchSize:        cfg.BatchSize,
		TimeBudget:       cfg.TimeBudget,
		MaxAttempts:      cfg.MaxAttempts,
		BaseBackoff:      cfg.BaseBackoff,
		StuckTimeout:     cfg.StuckTimeout,
		ReleaseUnstarted: cfg.ReleaseUnstarted,
	}, log)
	seeder := synctask.NewSeeder(gdb, log)

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	r := httpx.NewRouter(cfg, gdb, jwtSvc, proc, seeder, fineStore)

	// The polling cycle is trigger-driven; cron stands in for the
	// external scheduler.
	c := cron.New()
	mustSchedule(c, cfg.BatchCron, func() {
		res := proc.RunBatch(context.Background())
		log.Info().Str("status", res.Status).Int("processed", res.Processed).Msg("scheduled batch")
	})
	mustSchedule(c, cfg.CycleResetCron, func() {
		if res, err := proc.ResetCycle(); err == nil {
			log.Info().Int("total_reset", res.TotalReset).Msg("scheduled cycle reset")
		}
	})
	mustSchedule(c, cfg.SeedCron, func() {
		if res, err := seeder.Seed(); err == nil {
			log.Info().Int("created", res.Created).Int("deleted_marked", res.DeletedMarked).Msg("scheduled seed")
		}
		if purged, err := queue.PurgeDeleted(purgeAge); err == nil && purged > 0 {
			log.Info().Int("purged", purged).Msg("purged tombstoned tasks")
		}
	})
	c.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("worker", cfg.WorkerID).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cronCtx := c.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	<-cronCtx.Done()
	log.Info().Msg("shutdown complete")
}

func mustSchedule(c *cron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		panic("bad cron spec " + spec + ": " + err.Error())
	}
}
