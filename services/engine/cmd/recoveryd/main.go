package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"recoveryd/pkg/bus"
	"recoveryd/pkg/config"
	"recoveryd/pkg/db"
	gos3 "recoveryd/pkg/s3"
	"recoveryd/pkg/telemetry"
	"recoveryd/services/api"
	"recoveryd/services/broker"
	"recoveryd/services/capacity"
	"recoveryd/services/drs"
	"recoveryd/services/engine"
	"recoveryd/services/planstore"
	"recoveryd/services/scheduler"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownTracing, traceMiddleware, err := telemetry.Init(ctx, "recoveryd", cfg.OTLPEndpoint, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("open orm")
	}

	store, err := engine.NewPostgresStore(orm, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("init store")
	}

	events, err := bus.Connect(cfg.NATSURL, "recoveryd")
	if err != nil {
		log.Fatal().Err(err).Msg("connect bus")
	}
	defer events.Close()

	plans, err := planstore.Load(cfg.PlanFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load plans")
	}

	credentials, err := broker.New(ctx, cfg.AssumeRoleName, cfg.ExternalID, cfg.DefaultRegion, cfg.SessionTTL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init credential broker")
	}
	clients := drs.NewFactory(credentials)

	opts := engine.Options{
		Store:       store,
		Plans:       plans,
		Clients:     clients,
		Bus:         events,
		WaveTimeout: cfg.WaveTimeout,
		PollTimeout: cfg.PollTimeout,
		Logger:      log.Logger,
	}
	if cfg.ReportBucket != "" {
		reports, err := gos3.NewClient(ctx, cfg.DefaultRegion, cfg.ReportEndpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("init report storage")
		}
		opts.Reports = reports
		opts.ReportBucket = cfg.ReportBucket
	}

	eng, err := engine.New(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("init engine")
	}

	aggregator, err := capacity.New(plans, clients, cfg.CapacityCeiling, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init capacity aggregator")
	}

	sched, err := scheduler.New(eng, events, cfg.AdvanceInterval, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init scheduler")
	}
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("scheduler")
		}
	}()

	app, err := api.New(eng, aggregator, api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Ready: func(ctx context.Context) error {
			return db.Ping(ctx, pool)
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	routes, err := app.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           traceMiddleware(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting recoveryd")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
