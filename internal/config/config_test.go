package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.HistoryWindow != 8 {
		t.Fatalf("HistoryWindow = %d, want 8", cfg.HistoryWindow)
	}
	if cfg.MinUtteranceLen != 3 {
		t.Fatalf("MinUtteranceLen = %d, want 3", cfg.MinUtteranceLen)
	}
	if cfg.RecallTopK != 3 {
		t.Fatalf("RecallTopK = %d, want 3", cfg.RecallTopK)
	}
	if cfg.GroqBaseURL != "https://api.groq.com/openai/v1" {
		t.Fatalf("GroqBaseURL = %q", cfg.GroqBaseURL)
	}
	if cfg.CallSampleRate != 8000 {
		t.Fatalf("CallSampleRate = %d, want 8000", cfg.CallSampleRate)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENT_HISTORY_WINDOW", "4")
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("APP_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HistoryWindow != 4 {
		t.Fatalf("HistoryWindow = %d, want 4", cfg.HistoryWindow)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
	if !cfg.Debug {
		t.Fatalf("Debug = false, want true")
	}
}

func TestLoadRejectsInvalidWindow(t *testing.T) {
	t.Setenv("AGENT_HISTORY_WINDOW", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject AGENT_HISTORY_WINDOW=0")
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("CALL_SILENCE_HOLD", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject malformed CALL_SILENCE_HOLD")
	}
}
