package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/voidisnull/rw-agent/internal/agent"
	"github.com/voidisnull/rw-agent/internal/background"
	"github.com/voidisnull/rw-agent/internal/call"
	"github.com/voidisnull/rw-agent/internal/config"
	"github.com/voidisnull/rw-agent/internal/httpapi"
	"github.com/voidisnull/rw-agent/internal/llm"
	"github.com/voidisnull/rw-agent/internal/memory"
	"github.com/voidisnull/rw-agent/internal/observability"
	"github.com/voidisnull/rw-agent/internal/recall"
	"github.com/voidisnull/rw-agent/internal/session"
	"github.com/voidisnull/rw-agent/internal/telephony"
	"github.com/voidisnull/rw-agent/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := observability.NewLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	notes, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer notes.Close()

	index, err := recall.NewIndex(ctx, cfg.ChromaURL, cfg.ChromaCollection, logger)
	if err != nil {
		log.Fatalf("recall index init failed: %v", err)
	}
	defer index.Close()

	llmClient, err := llm.NewClient(llm.Config{
		Mode:    cfg.LLMMode,
		APIKey:  cfg.GroqAPIKey,
		BaseURL: cfg.GroqBaseURL,
	})
	if err != nil {
		log.Fatalf("llm client init failed: %v", err)
	}

	var transcriber voice.Transcriber
	if strings.TrimSpace(cfg.GroqAPIKey) != "" {
		transcriber = voice.NewGroqSTTProvider(voice.GroqSTTConfig{
			APIKey:           cfg.GroqAPIKey,
			BaseURL:          cfg.GroqBaseURL,
			ModelID:          cfg.WhisperModelID,
			Language:         cfg.STTLanguage,
			NormalizeModelID: cfg.NormalizeModelID,
		}, llmClient, logger)
		logger.Info("stt provider: groq whisper", zap.String("model", cfg.WhisperModelID))
	} else {
		transcriber = voice.NewMockProvider()
		logger.Info("stt provider: mock (no groq key)")
	}

	var webSynth, callSynth voice.Synthesizer
	if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
		webSynth = voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			BaseURL:      cfg.ElevenLabsBaseURL,
			VoiceID:      cfg.ElevenLabsVoiceID,
			ModelID:      cfg.ElevenLabsModelID,
			OutputFormat: cfg.ElevenLabsOutputFormat,
		})
		// Telephony always needs 8 kHz mu-law, regardless of the web format.
		callSynth = voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			BaseURL:      cfg.ElevenLabsBaseURL,
			VoiceID:      cfg.ElevenLabsVoiceID,
			ModelID:      cfg.ElevenLabsModelID,
			OutputFormat: "ulaw_8000",
		})
		logger.Info("tts provider: elevenlabs", zap.String("voice", cfg.ElevenLabsVoiceID))
	} else {
		mock := voice.NewMockProvider()
		webSynth = mock
		callSynth = mock
		logger.Info("tts provider: mock (no elevenlabs key)")
	}

	sessions := session.NewStore(cfg.HistoryWindow)
	ag := agent.New(sessions, llmClient, index, notes, metrics, logger, agent.Options{
		ChatModelID:        cfg.ChatModelID,
		InsightModelID:     cfg.InsightModelID,
		MinUtteranceLen:    cfg.MinUtteranceLen,
		RecallTopK:         cfg.RecallTopK,
		ReplyTemperature:   cfg.ReplyTemperature,
		ReplyMaxTokens:     cfg.ReplyMaxTokens,
		SummaryTemperature: cfg.SummaryTemperature,
		SummaryMaxTokens:   cfg.SummaryMaxTokens,
	})

	mediaStream := call.NewHandler(call.Config{
		SampleRate:       cfg.CallSampleRate,
		SilenceHold:      cfg.CallSilenceHold,
		MinUtteranceLen:  cfg.MinUtteranceLen,
		ChatModelID:      cfg.ChatModelID,
		ReplyTemperature: cfg.ReplyTemperature,
		ReplyMaxTokens:   cfg.ReplyMaxTokens,
	}, transcriber, callSynth, llmClient, ag, metrics, logger)

	var dialer httpapi.Dialer
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilio, err := telephony.NewTwilioClient(telephony.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
		})
		if err != nil {
			log.Fatalf("twilio client init failed: %v", err)
		}
		dialer = twilio
		logger.Info("telephony: twilio dialout enabled")
	} else {
		logger.Info("telephony: dialout disabled (no twilio credentials)")
	}

	tasks := background.NewRegistry(logger)

	api := httpapi.New(cfg, ag, sessions, transcriber, webSynth, dialer, mediaStream, tasks, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful http shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		logger.Warn("background units did not drain", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
