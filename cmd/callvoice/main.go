package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/auth"
	"github.com/antoniostano/callvoice/internal/callcontrol"
	"github.com/antoniostano/callvoice/internal/config"
	"github.com/antoniostano/callvoice/internal/directory"
	"github.com/antoniostano/callvoice/internal/httpapi"
	"github.com/antoniostano/callvoice/internal/observability"
	"github.com/antoniostano/callvoice/internal/pipeline"
	"github.com/antoniostano/callvoice/internal/reply"
	"github.com/antoniostano/callvoice/internal/session"
	"github.com/antoniostano/callvoice/internal/storage"
	"github.com/antoniostano/callvoice/internal/turnlog"
	"github.com/antoniostano/callvoice/internal/vad"
	"github.com/antoniostano/callvoice/internal/voice"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	ctx := context.Background()
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = storage.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("storage: postgres")
	} else {
		logger.Info("storage: in-memory (DATABASE_URL not set)")
	}

	dir := directory.New(pool, cfg.DefaultCredentials())
	defer dir.Close()
	turnLog := turnlog.NewStore(pool, cfg.TurnLogRedactPII)
	defer turnLog.Close()

	recognizer, closeRecognizer, err := buildRecognizer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("recognizer init failed", zap.Error(err))
	}
	defer closeRecognizer()

	generator, err := reply.NewGenerator(ctx, reply.Config{
		Mode:         cfg.ReplyProvider,
		DifyStrict:   cfg.DifyStrict,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
	}, logger)
	if err != nil {
		logger.Fatal("reply generator init failed", zap.Error(err))
	}

	synthesizer, err := buildSynthesizer(cfg, logger)
	if err != nil {
		logger.Fatal("synthesizer init failed", zap.Error(err))
	}

	model := vad.DefaultModel()
	if cfg.VADModelPath != "" {
		if model, err = vad.LoadModel(cfg.VADModelPath); err != nil {
			logger.Fatal("vad model load failed", zap.Error(err))
		}
	}
	classifier, err := vad.NewEnergyClassifier(model, cfg.AudioFormat())
	if err != nil {
		logger.Fatal("vad classifier init failed", zap.Error(err))
	}

	p := pipeline.New(pipeline.Config{
		RecognizeTimeout:  cfg.RecognizeTimeout,
		GenerateTimeout:   cfg.GenerateTimeout,
		SynthesizeTimeout: cfg.SynthesizeTimeout,
		DeliverTimeout:    cfg.DeliverTimeout,
		LogTimeout:        cfg.TurnLogTimeout,
		FallbackText:      cfg.FallbackReplyText,
	}, pipeline.Deps{
		Recognizer:  recognizer,
		Generator:   generator,
		Synthesizer: synthesizer,
		TurnLog:     turnLog,
		Metrics:     metrics,
		Logger:      logger,
	})
	runner := pipeline.NewRunner(classifier, p, metrics, logger)

	overflow, err := session.ParseOverflowPolicy(cfg.OverflowPolicy)
	if err != nil {
		logger.Fatal("invalid overflow policy", zap.Error(err))
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry := session.NewRegistry(runCtx, session.Options{
		QueueSize:         cfg.InboundQueue,
		Overflow:          overflow,
		Threshold:         cfg.VADThreshold,
		MaxSessions:       cfg.MaxActiveCalls,
		InactivityTimeout: cfg.SessionInactivityTimeout,
	})
	registry.StartJanitor(runCtx, 5*time.Second)

	controller := callcontrol.New(dir, registry, runner, metrics, logger)

	var ready func(context.Context) error
	if pool != nil {
		ready = pool.Ping
	}
	api := httpapi.New(cfg, httpapi.Deps{
		Controller: controller,
		TurnLog:    turnLog,
		Auth:       auth.NewAuthenticator(cfg.AuthSecret),
		Metrics:    metrics,
		Logger:     logger,
		Ready:      ready,
	})
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	registry.CloseAll(session.ErrTransportDisconnected)
	runCancel()

	logger.Info("shutdown complete")
}

func buildRecognizer(ctx context.Context, cfg config.Config, logger *zap.Logger) (voice.Recognizer, func(), error) {
	noop := func() {}
	mode := cfg.RecognizerProvider
	if mode == "auto" {
		mode = "mock"
		if cfg.AzureSpeechKey != "" && cfg.AzureSpeechRegion != "" {
			mode = "azure"
		}
	}

	switch mode {
	case "azure":
		logger.Info("recognizer: azure")
		return voice.NewAzureSpeech(voice.AzureConfig{SampleRate: cfg.SampleRate}, logger), noop, nil
	case "google":
		g, err := voice.NewGoogleRecognizer(ctx, voice.GoogleConfig{
			SampleRate:      cfg.SampleRate,
			DefaultLanguage: cfg.DefaultLanguage,
			Model:           cfg.GoogleSpeechModel,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("recognizer: google")
		return g, func() { _ = g.Close() }, nil
	case "mock":
		logger.Info("recognizer: mock")
		return voice.NewMockRecognizer(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported recognizer provider %q", cfg.RecognizerProvider)
	}
}

func buildSynthesizer(cfg config.Config, logger *zap.Logger) (voice.Synthesizer, error) {
	mode := cfg.SynthesizerProvider
	if mode == "auto" {
		switch {
		case cfg.AzureSpeechKey != "" && cfg.AzureSpeechRegion != "":
			mode = "azure"
		case cfg.ElevenLabsAPIKey != "":
			mode = "elevenlabs"
		default:
			mode = "mock"
		}
	}

	switch mode {
	case "azure":
		logger.Info("synthesizer: azure")
		return voice.NewAzureSpeech(voice.AzureConfig{SampleRate: cfg.SampleRate}, logger), nil
	case "elevenlabs":
		logger.Info("synthesizer: elevenlabs")
		return voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			BaseURL:    cfg.ElevenLabsBaseURL,
			VoiceID:    cfg.ElevenLabsVoiceID,
			ModelID:    cfg.ElevenLabsModelID,
			SampleRate: cfg.SampleRate,
		}, logger)
	case "mock":
		logger.Info("synthesizer: mock")
		return voice.NewMockSynthesizer(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unsupported synthesizer provider %q", cfg.SynthesizerProvider)
	}
}
