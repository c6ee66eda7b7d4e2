package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/api"
	"github.com/snarg/voxdoc/internal/audio"
	"github.com/snarg/voxdoc/internal/config"
	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/jobs"
	"github.com/snarg/voxdoc/internal/llm"
	"github.com/snarg/voxdoc/internal/pipeline"
	"github.com/snarg/voxdoc/internal/publish"
	"github.com/snarg/voxdoc/internal/selector"
	"github.com/snarg/voxdoc/internal/store"
	"github.com/snarg/voxdoc/internal/stt"
)

var version = "dev"

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace..error)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL for the document store")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-broker", "", "MQTT broker URL for document publishing")
	flag.StringVar(&overrides.LLMBaseURL, "llm-url", "", "language-model service base URL")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("voxdoc starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(512)

	// Optional document store. Empty URL disables persistence.
	var db *store.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "store").Logger()
		db, err = store.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
	}

	// Optional MQTT publisher.
	var mqtt *publish.Publisher
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = publish.Connect(publish.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicBase,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		go mqtt.Forward(ctx, bus)
	}

	// Transcription engines. The network engine is optional: without cloud
	// credentials the selector degrades to the local engine.
	var network stt.Engine
	cloudLog := log.With().Str("component", "stt-cloud").Logger()
	cloud, err := stt.NewCloudEngine(ctx, stt.CloudOptions{
		Language:        cfg.CloudSTTLanguage,
		SampleRate:      cfg.CloudSTTSampleRate,
		CredentialsFile: cfg.CloudSTTCredentials,
		Log:             cloudLog,
	})
	if err != nil {
		log.Warn().Err(err).Msg("network engine unavailable, local-only operation")
	} else {
		network = cloud
	}

	localLog := log.With().Str("component", "stt-local").Logger()
	local := stt.NewLocalEngine(stt.LocalOptions{
		URL:        cfg.LocalSTTURL,
		ModelDir:   cfg.LocalSTTModelDir,
		Timeout:    cfg.LocalSTTTimeout,
		FlushMs:    cfg.LocalSTTFlushMs,
		SampleRate: cfg.CloudSTTSampleRate,
		Log:        localLog,
	})

	selLog := log.With().Str("component", "selector").Logger()
	sel := selector.New(selector.Options{
		Network:     network,
		Local:       local,
		Bus:         bus,
		PrivacyMode: cfg.PrivacyMode,
		Log:         selLog,
	})
	go sel.Run(ctx)

	monitor := selector.NewMonitor(selector.MonitorOptions{
		ProbeURL: cfg.ProbeURL,
		Interval: cfg.ProbeInterval,
		Timeout:  cfg.ProbeTimeout,
		Selector: sel,
		Log:      log.With().Str("component", "monitor").Logger(),
	})
	go monitor.Run(ctx)

	buffer := audio.NewBuffer(cfg.AudioQueueSize, sel.FeedAudio, log.With().Str("component", "audio").Logger())
	go buffer.Run(ctx)

	// Document pipeline and job manager.
	model := llm.NewOllamaClient(llm.OllamaOptions{
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
		Log:     log.With().Str("component", "llm").Logger(),
	})
	runner := pipeline.NewRunner(model, cfg.LLMTimeout, bus, log.With().Str("component", "pipeline").Logger())

	var sinks []jobs.Sink
	if db != nil {
		sinks = append(sinks, db)
	}
	if mqtt != nil {
		sinks = append(sinks, mqtt)
	}
	mgr := jobs.NewManager(runner, bus, log.With().Str("component", "jobs").Logger(), sinks...)

	// HTTP server.
	httpLog := log.With().Str("component", "http").Logger()
	deps := api.Deps{
		Selector: sel,
		Jobs:     mgr,
		Audio:    buffer,
		Bus:      bus,
		Version:  version,
	}
	if db != nil {
		deps.DB = db
		deps.Documents = db
	}
	if mqtt != nil {
		deps.MQTT = mqtt
	}
	srv := api.NewServer(cfg, deps, httpLog)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	// Let in-flight document jobs finish before tearing down sinks.
	mgr.Wait()

	log.Info().Msg("voxdoc stopped")
}
