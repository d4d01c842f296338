package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/voidisnull/rw-agent/internal/llm"
)

// GroqSTTConfig configures the Whisper transcription client.
type GroqSTTConfig struct {
	APIKey           string
	BaseURL          string
	ModelID          string
	Language         string
	NormalizeModelID string
}

// GroqSTTProvider transcribes audio through Groq's Whisper endpoint. When the
// transcript comes back in Devanagari it is rewritten into Roman Hindi with a
// small normalization completion, so downstream prompts stay in one script.
type GroqSTTProvider struct {
	cfg        GroqSTTConfig
	httpClient *http.Client
	normalizer llm.Client
	logger     *zap.Logger
}

func NewGroqSTTProvider(cfg GroqSTTConfig, normalizer llm.Client, logger *zap.Logger) *GroqSTTProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "whisper-large-v3-turbo"
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "hi"
	}
	return &GroqSTTProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		normalizer: normalizer,
		logger:     logger,
	}
}

func (p *GroqSTTProvider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio part: %w", err)
	}
	_ = mw.WriteField("model", p.cfg.ModelID)
	_ = mw.WriteField("response_format", "text")
	_ = mw.WriteField("language", p.cfg.Language)
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	url := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	text := strings.TrimSpace(string(raw))

	// A lone word is almost always line noise or a breath, not an utterance.
	if len(strings.Fields(text)) <= 1 {
		return "", nil
	}

	if containsDevanagari(text) {
		return p.normalizeHinglish(ctx, text), nil
	}
	return strings.ToLower(text), nil
}

func (p *GroqSTTProvider) normalizeHinglish(ctx context.Context, raw string) string {
	if p.normalizer == nil {
		return strings.ToLower(raw)
	}

	normalized, err := p.normalizer.Complete(ctx, llm.CompletionRequest{
		Model:       p.cfg.NormalizeModelID,
		Messages:    []llm.Message{{Role: "user", Content: hinglishNormalizePrompt(raw)}},
		Temperature: 0.3,
		MaxTokens:   256,
	})
	if err != nil {
		p.logger.Warn("hinglish normalization failed", zap.Error(err))
		return strings.ToLower(raw)
	}
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(normalized)
}

func hinglishNormalizePrompt(raw string) string {
	return "You are a precise text converter that rewrites Hindi or English sentences " +
		"into natural Hinglish (Roman Hindi). " +
		"Use Roman script only — no Devanagari characters. " +
		"Preserve the original meaning and flow, but write it the way people actually speak " +
		"in North Indian daily conversations. " +
		"Do not over-translate English terms that are commonly used in Hindi speech " +
		"(e.g., keep 'painting', 'site visit', 'meeting'). " +
		"Avoid emojis, punctuation overload, or added commentary. " +
		"Keep spelling simple and readable.\n\n" +
		"Input: " + raw + "\n\n" +
		"Output (in natural Hinglish):"
}

func containsDevanagari(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Devanagari, r) {
			return true
		}
	}
	return false
}
