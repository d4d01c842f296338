package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the Riverwood voice agent.
type Config struct {
	BindAddr         string
	PublicBaseURL    string
	Environment      string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	Debug            bool

	GroqAPIKey       string
	GroqBaseURL      string
	ChatModelID      string
	InsightModelID   string
	NormalizeModelID string
	WhisperModelID   string
	STTLanguage      string
	LLMMode          string

	ElevenLabsAPIKey       string
	ElevenLabsBaseURL      string
	ElevenLabsVoiceID      string
	ElevenLabsModelID      string
	ElevenLabsOutputFormat string

	TwilioAccountSID string
	TwilioAuthToken  string

	DatabaseURL      string
	ChromaURL        string
	ChromaCollection string

	HistoryWindow      int
	MinUtteranceLen    int
	RecallTopK         int
	ReplyTemperature   float64
	ReplyMaxTokens     int
	SummaryTemperature float64
	SummaryMaxTokens   int

	CallSampleRate  int
	CallSilenceHold time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicBaseURL:    stringsTrimSpace("APP_PUBLIC_BASE_URL"),
		Environment:      envOrDefault("APP_ENV", "local"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "riverwood"),
		ShutdownTimeout:  15 * time.Second,

		GroqAPIKey:  stringsTrimSpace("GROQ_API_KEY"),
		GroqBaseURL: envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		// Default to a strong versatile model for conversational replies.
		ChatModelID:      envOrDefault("GROQ_CHAT_MODEL_ID", "llama-3.3-70b-versatile"),
		InsightModelID:   envOrDefault("GROQ_INSIGHT_MODEL_ID", "llama-3.3-70b-versatile"),
		NormalizeModelID: envOrDefault("GROQ_NORMALIZE_MODEL_ID", "llama-3.1-8b-instant"),
		WhisperModelID:   envOrDefault("GROQ_WHISPER_MODEL_ID", "whisper-large-v3-turbo"),
		STTLanguage:      envOrDefault("GROQ_STT_LANGUAGE", "hi"),
		LLMMode:          envOrDefault("LLM_MODE", "auto"),

		ElevenLabsAPIKey:  stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		// Warm female premade voice matching the Miss Riverwood persona.
		ElevenLabsVoiceID:      envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		ElevenLabsModelID:      envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),

		TwilioAccountSID: stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  stringsTrimSpace("TWILIO_AUTH_TOKEN"),

		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		ChromaURL:        stringsTrimSpace("CHROMA_URL"),
		ChromaCollection: envOrDefault("CHROMA_COLLECTION", "conversation_memory"),

		// System turn plus the most recent 8 user/assistant turns.
		HistoryWindow:      8,
		MinUtteranceLen:    3,
		RecallTopK:         3,
		ReplyTemperature:   0.8,
		ReplyMaxTokens:     150,
		SummaryTemperature: 0.5,
		SummaryMaxTokens:   150,

		// Telephony media streams run 8 kHz mu-law.
		CallSampleRate:  8000,
		CallSilenceHold: 700 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallSilenceHold, err = durationFromEnv("CALL_SILENCE_HOLD", cfg.CallSilenceHold)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("AGENT_HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.MinUtteranceLen, err = intFromEnv("AGENT_MIN_UTTERANCE_LEN", cfg.MinUtteranceLen)
	if err != nil {
		return Config{}, err
	}
	cfg.RecallTopK, err = intFromEnv("AGENT_RECALL_TOP_K", cfg.RecallTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.ReplyMaxTokens, err = intFromEnv("AGENT_REPLY_MAX_TOKENS", cfg.ReplyMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryMaxTokens, err = intFromEnv("AGENT_SUMMARY_MAX_TOKENS", cfg.SummaryMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.Debug, err = boolFromEnv("APP_DEBUG", cfg.Debug)
	if err != nil {
		return Config{}, err
	}

	if cfg.HistoryWindow < 1 {
		return Config{}, fmt.Errorf("AGENT_HISTORY_WINDOW must be at least 1")
	}
	if cfg.MinUtteranceLen < 0 {
		return Config{}, fmt.Errorf("AGENT_MIN_UTTERANCE_LEN must be >= 0")
	}
	if cfg.RecallTopK < 1 {
		return Config{}, fmt.Errorf("AGENT_RECALL_TOP_K must be at least 1")
	}
	if cfg.ReplyMaxTokens < 1 {
		return Config{}, fmt.Errorf("AGENT_REPLY_MAX_TOKENS must be positive")
	}
	if cfg.SummaryMaxTokens < 1 {
		return Config{}, fmt.Errorf("AGENT_SUMMARY_MAX_TOKENS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid boolean %q", key, v)
	}
}
