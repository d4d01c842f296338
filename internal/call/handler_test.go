package call

import (
	"context"
	"encoding/base64"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voidisnull/rw-agent/internal/agent"
	"github.com/voidisnull/rw-agent/internal/audio"
	"github.com/voidisnull/rw-agent/internal/llm"
	"github.com/voidisnull/rw-agent/internal/memory"
	"github.com/voidisnull/rw-agent/internal/observability"
	"github.com/voidisnull/rw-agent/internal/recall"
	"github.com/voidisnull/rw-agent/internal/session"
)

type scriptedTranscriber struct {
	text string
	err  error
}

func (s *scriptedTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return s.text, s.err
}

type wavSynthesizer struct{ calls atomic.Int32 }

func (s *wavSynthesizer) Synthesize(context.Context, string) (io.ReadCloser, string, error) {
	s.calls.Add(1)
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, 320), 8000)
	if err != nil {
		return nil, "", err
	}
	return io.NopCloser(strings.NewReader(string(wav))), "audio/wav", nil
}

type scriptedClient struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	replies  []string
	err      error
}

func (c *scriptedClient) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	if len(c.requests) <= len(c.replies) {
		return c.replies[len(c.requests)-1], nil
	}
	return "theek hai", nil
}

func (c *scriptedClient) recorded() []llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.CompletionRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	name := strings.NewReplacer("/", "_", "-", "_", "#", "_").Replace(t.Name())
	return observability.NewMetrics("test_" + strings.ToLower(name))
}

func newTestHandler(t *testing.T, transcriber *scriptedTranscriber, client *scriptedClient, notes memory.Store) (*Handler, *wavSynthesizer) {
	t.Helper()
	metrics := testMetrics(t)
	ag := agent.New(session.NewStore(8), client, recall.NewInMemoryIndex(), notes, metrics, zap.NewNop(), agent.Options{
		ChatModelID:    "chat-model",
		InsightModelID: "insight-model",
	})
	synth := &wavSynthesizer{}
	h := NewHandler(Config{
		SampleRate:       8000,
		SilenceHold:      40 * time.Millisecond,
		MinUtteranceLen:  3,
		ChatModelID:      "chat-model",
		ReplyTemperature: 0.8,
		ReplyMaxTokens:   150,
	}, transcriber, synth, client, ag, metrics, zap.NewNop())
	return h, synth
}

func dialStream(t *testing.T, h *Handler) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial media stream: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func startEvent(from string) map[string]any {
	return map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid": "MZ1",
			"callSid":   "CA1",
			"customParameters": map[string]string{
				"to_number":   "+919812345678",
				"from_number": from,
			},
		},
	}
}

func mediaEvent(frame []byte) map[string]any {
	return map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(frame)},
	}
}

func TestMediaStreamConversation(t *testing.T) {
	transcriber := &scriptedTranscriber{text: "painting ka update chahiye"}
	client := &scriptedClient{replies: []string{"Painting 80% ho gayi hai.", "Pehli call: painting discuss hui."}}
	notes := memory.NewInMemoryStore()
	h, synth := newTestHandler(t, transcriber, client, notes)

	conn, cleanup := dialStream(t, h)
	defer cleanup()

	sendEvent(t, conn, map[string]any{"event": "connected"})
	sendEvent(t, conn, startEvent("+15550001111"))
	sendEvent(t, conn, mediaEvent(voicedFrame(160)))
	time.Sleep(80 * time.Millisecond)
	sendEvent(t, conn, mediaEvent(silentFrame(160)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	sawMedia := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read outbound frame: %v", err)
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal outbound frame: %v", err)
		}
		if ev["event"] == "media" {
			sawMedia = true
			continue
		}
		if ev["event"] == "mark" {
			break
		}
	}
	if !sawMedia {
		t.Fatalf("no outbound media before mark")
	}
	if n := synth.calls.Load(); n != 1 {
		t.Fatalf("synthesizer calls = %d, want 1", n)
	}

	requests := client.recorded()
	if len(requests) == 0 {
		t.Fatalf("no completion request issued")
	}
	first := requests[0]
	if first.Model != "chat-model" {
		t.Fatalf("model = %q", first.Model)
	}
	if first.Messages[0].Role != "system" || !strings.Contains(first.Messages[0].Content, "Miss Riverwood") {
		t.Fatalf("system turn = %+v", first.Messages[0])
	}
	if got := first.Messages[len(first.Messages)-1]; got.Role != "user" || got.Content != "painting ka update chahiye" {
		t.Fatalf("user turn = %+v", got)
	}

	sendEvent(t, conn, map[string]any{"event": "stop"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		note, ok, err := notes.Get(context.Background(), "+15550001111")
		if err != nil {
			t.Fatalf("Get note: %v", err)
		}
		if ok {
			if note != "Pehli call: painting discuss hui." {
				t.Fatalf("note = %q", note)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("memory note never finalized")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMediaStreamSkipsNoSpeech(t *testing.T) {
	transcriber := &scriptedTranscriber{text: ""}
	client := &scriptedClient{}
	h, synth := newTestHandler(t, transcriber, client, memory.NewInMemoryStore())

	conn, cleanup := dialStream(t, h)
	defer cleanup()

	sendEvent(t, conn, startEvent("+15550001111"))
	sendEvent(t, conn, mediaEvent(voicedFrame(160)))
	time.Sleep(80 * time.Millisecond)
	sendEvent(t, conn, mediaEvent(silentFrame(160)))
	sendEvent(t, conn, map[string]any{"event": "stop"})

	// Give the server time to process everything before asserting.
	time.Sleep(150 * time.Millisecond)
	if len(client.recorded()) != 0 {
		t.Fatalf("completion requested for empty transcript")
	}
	if synth.calls.Load() != 0 {
		t.Fatalf("synthesizer called for empty transcript")
	}
}

func TestMediaStreamNoFinalizeWithoutDialogue(t *testing.T) {
	transcriber := &scriptedTranscriber{text: ""}
	client := &scriptedClient{}
	notes := memory.NewInMemoryStore()
	h, _ := newTestHandler(t, transcriber, client, notes)

	conn, cleanup := dialStream(t, h)
	defer cleanup()

	sendEvent(t, conn, startEvent("+15550001111"))
	sendEvent(t, conn, map[string]any{"event": "stop"})

	time.Sleep(150 * time.Millisecond)
	if _, ok, _ := notes.Get(context.Background(), "+15550001111"); ok {
		t.Fatalf("note stored for a call with no dialogue")
	}
}

func TestToMuLawRejectsMP3(t *testing.T) {
	if _, err := toMuLaw([]byte("mp3"), "audio/mpeg"); err == nil {
		t.Fatalf("mp3 payload should be rejected")
	}
}

func TestToMuLawPassesThroughRaw(t *testing.T) {
	raw := []byte{0xFF, 0x7F, 0x00}
	out, err := toMuLaw(raw, "audio/basic")
	if err != nil {
		t.Fatalf("toMuLaw() error = %v", err)
	}
	if string(out) != string(raw) {
		t.Fatalf("raw mu-law modified in passthrough")
	}
}

func TestMediaStreamSeedsPersonaWithPreviousNote(t *testing.T) {
	transcriber := &scriptedTranscriber{text: "site visit kab ho sakta hai"}
	client := &scriptedClient{replies: []string{"Kal 11 baje aa jaiye."}}
	notes := memory.NewInMemoryStore()
	if err := notes.Upsert(context.Background(), "+15550001111", "Pichli call mein painting discuss hui thi."); err != nil {
		t.Fatalf("seed note: %v", err)
	}
	h, _ := newTestHandler(t, transcriber, client, notes)

	conn, cleanup := dialStream(t, h)
	defer cleanup()

	sendEvent(t, conn, startEvent("+15550001111"))
	sendEvent(t, conn, mediaEvent(voicedFrame(160)))
	time.Sleep(80 * time.Millisecond)
	sendEvent(t, conn, mediaEvent(silentFrame(160)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read outbound frame: %v", err)
		}
		var ev map[string]any
		_ = json.Unmarshal(data, &ev)
		if ev["event"] == "mark" {
			break
		}
	}

	requests := client.recorded()
	if len(requests) == 0 {
		t.Fatalf("no completion request issued")
	}
	system := requests[0].Messages[0].Content
	if !strings.Contains(system, "PREVIOUS CONTEXT:") || !strings.Contains(system, "Pichli call mein painting discuss hui thi.") {
		t.Fatalf("system turn missing previous note:\n%s", system)
	}
}
