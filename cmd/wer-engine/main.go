package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	werengine "github.com/snarg/wer-engine"
	"github.com/snarg/wer-engine/internal/api"
	"github.com/snarg/wer-engine/internal/batch"
	"github.com/snarg/wer-engine/internal/config"
	"github.com/snarg/wer-engine/internal/database"
	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/evaluate"
	"github.com/snarg/wer-engine/internal/events"
	"github.com/snarg/wer-engine/internal/ingest"
	"github.com/snarg/wer-engine/internal/lattice"
	"github.com/snarg/wer-engine/internal/metrics"
	"github.com/snarg/wer-engine/internal/mqttclient"
	"github.com/snarg/wer-engine/internal/storage"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default ./.env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-broker", "", "MQTT broker URL (overrides MQTT_BROKER_URL)")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "directory watched for dataset CSVs (overrides WATCH_DIR)")
	flag.StringVar(&overrides.ReportDir, "report-dir", "", "local report directory (overrides REPORT_DIR)")
	flag.Parse()

	if *showVersion {
		fmt.Println("wer-engine", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("wer-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	var (
		repo   database.Repository
		pinger api.Pinger
		dbPool *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		size := database.PoolSize{Max: cfg.DatabaseMaxConns, Min: cfg.DatabaseMinConns}
		db, err := database.Connect(ctx, cfg.DatabaseURL, size, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx, werengine.SchemaSQL); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			var merr *database.MigrationError
			if errors.As(err, &merr) {
				fmt.Fprintf(os.Stderr, "Apply the remaining migrations as a database superuser, then restart:\n\n%s\n", merr.ManualSQL())
			}
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
		repo, pinger, dbPool = db, db, db.Pool
	} else {
		log.Warn().Msg("DATABASE_URL not set, evaluations are kept in memory only")
		repo = database.NewMemory()
	}

	// Report storage
	store, services, err := storage.New(cfg.S3, cfg.ReportDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize report storage")
	}
	for _, svc := range services {
		svc.Start()
	}

	// Kafka
	publisher := events.New(&events.Config{
		Brokers: cfg.Kafka.BrokerList(),
		Topic:   cfg.Kafka.Topic,
		Enabled: cfg.Kafka.Enabled,
	}, log)

	// Engine
	threshold := cfg.Engine.TrustThreshold
	engine, err := evaluate.New(evaluate.Options{
		Strategy:       lattice.Strategy(cfg.Engine.Strategy),
		TrustThreshold: &threshold,
		MaxCells:       cfg.Engine.MaxCells,
		Workers:        cfg.Engine.Workers,
		Log:            log.With().Str("component", "engine").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid engine configuration")
	}
	tok, err := dataset.NewTokenizer(cfg.Dataset.Normalize, cfg.Dataset.Lowercase)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid tokenizer configuration")
	}
	layout := dataset.Layout{
		ReferenceColumn:  cfg.Dataset.ReferenceColumn,
		IDColumn:         cfg.Dataset.IDColumn,
		HypothesisPrefix: cfg.Dataset.HypothesisPrefix,
	}

	// Ingest pipeline and batch pool
	pipeline := ingest.NewPipeline(ingest.PipelineOptions{
		Engine:    engine,
		Tokenizer: tok,
		Layout:    layout,
		Repo:      repo,
		Store:     store,
		Publisher: publisher,
		Retention: cfg.Retention,
		Log:       log,
	})
	pipeline.Start()

	pool := batch.NewPool(batch.PoolOptions{
		Recorder:  pipeline,
		Tokenizer: tok,
		Workers:   cfg.Batch.Workers,
		QueueSize: cfg.Batch.QueueSize,
		Log:       log,
	})
	pool.Start()
	pipeline.SetQueue(pool)

	if cfg.WatchDir != "" {
		if err := pipeline.StartWatcher(cfg.WatchDir, cfg.WatchDebounce); err != nil {
			log.Fatal().Err(err).Str("watch_dir", cfg.WatchDir).Msg("failed to start dataset watcher")
		}
	}

	// MQTT
	var (
		mq         *mqttclient.Client
		mqttStatus api.ConnectionStatus
	)
	if cfg.MQTT.Enabled() {
		mq, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			Topics:      cfg.MQTT.Topics,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			StatusTopic: cfg.MQTT.StatusTopic,
			Log:         log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		pipeline.SetResultPublisher(mq, cfg.MQTT.ResultTopic)
		mq.SetMessageHandler(pipeline.HandleMessage)
		mqttStatus = mq
	}

	prometheus.MustRegister(metrics.NewCollector(dbPool, pool))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		Evaluations: pipeline,
		Repo:        repo,
		Datasets:    pool,
		Layout:      layout,
		Live:        pipeline,
		Health: api.HealthOptions{
			DB:           pinger,
			MQTT:         mqttStatus,
			Live:         pipeline,
			Queue:        pool,
			StorageType:  store.Type(),
			KafkaEnabled: publisher.Enabled(),
			Version:      version,
			StartTime:    startTime,
		},
		Log: httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if mq != nil {
		mq.Close()
	}
	pool.Stop()
	pipeline.Stop()
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("kafka publisher close error")
	}
	for _, svc := range services {
		svc.Stop()
	}

	log.Info().Msg("wer-engine stopped")
}
