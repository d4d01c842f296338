package voice

import (
	"context"
	"io"
	"strings"

	"github.com/voidisnull/rw-agent/internal/audio"
)

// MockProvider is a local fallback provider used when no speech credentials
// are configured. Transcripts are canned; synthesized audio is silence.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(_ context.Context, audioBytes []byte) (string, error) {
	if len(audioBytes) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}

func (p *MockProvider) Synthesize(_ context.Context, text string) (io.ReadCloser, string, error) {
	if strings.TrimSpace(text) == "" {
		return io.NopCloser(strings.NewReader("")), "audio/wav", nil
	}
	// 200ms of 8 kHz silence, enough for players to treat it as real audio.
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, 3200), 8000)
	if err != nil {
		return nil, "", err
	}
	return io.NopCloser(strings.NewReader(string(wav))), "audio/wav", nil
}
