package call

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voidisnull/rw-agent/internal/agent"
	"github.com/voidisnull/rw-agent/internal/audio"
	"github.com/voidisnull/rw-agent/internal/llm"
	"github.com/voidisnull/rw-agent/internal/observability"
	"github.com/voidisnull/rw-agent/internal/session"
	"github.com/voidisnull/rw-agent/internal/voice"
)

// outboundFrameSize is the mu-law chunk sent per media message, 500ms at 8 kHz.
const outboundFrameSize = 4000

// finalizeTimeout bounds the post-call memory merge once the socket is gone.
const finalizeTimeout = 30 * time.Second

// Config carries the telephony pipeline tunables.
type Config struct {
	SampleRate       int
	SilenceHold      time.Duration
	MinUtteranceLen  int
	ChatModelID      string
	ReplyTemperature float64
	ReplyMaxTokens   int
}

// Handler serves the Twilio bidirectional media stream: inbound mu-law frames
// are endpointed into utterances, transcribed, answered through the completion
// service, and spoken back as outbound media frames. When the stream closes
// the call transcript is merged into the caller's memory note.
type Handler struct {
	cfg         Config
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	client      llm.Client
	agent       *agent.Agent
	metrics     *observability.Metrics
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

func NewHandler(cfg Config, transcriber voice.Transcriber, synthesizer voice.Synthesizer, client llm.Client, ag *agent.Agent, metrics *observability.Metrics, logger *zap.Logger) *Handler {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	return &Handler{
		cfg:         cfg,
		transcriber: transcriber,
		synthesizer: synthesizer,
		client:      client,
		agent:       ag,
		metrics:     metrics,
		logger:      logger,
		upgrader: websocket.Upgrader{
			// Twilio connects server-to-server without a browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// conversation is the per-stream state.
type conversation struct {
	streamSID  string
	callSID    string
	toNumber   string
	fromNumber string
	turns      []session.Turn
}

func (c *conversation) append(role session.Role, text string) {
	c.turns = append(c.turns, session.Turn{Role: role, Text: text})
}

func (c *conversation) messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(c.turns))
	for _, t := range c.turns {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	return msgs
}

func (c *conversation) hasDialogue() bool {
	for _, t := range c.turns {
		if t.Role == session.RoleUser || t.Role == session.RoleAssistant {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("media stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.serveStream(r.Context(), conn)
}

func (h *Handler) serveStream(ctx context.Context, conn *websocket.Conn) {
	ep := newEndpointer(h.cfg.SilenceHold)
	conv := &conversation{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("media stream read failed", zap.Error(err))
			}
			break
		}

		var ev inboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			h.logger.Warn("unparseable stream event", zap.Error(err))
			continue
		}

		switch ev.Event {
		case "connected":
			h.logger.Debug("media stream connected")
		case "start":
			h.handleStart(ctx, conv, ev.Start)
		case "media":
			if ev.Media == nil || conv.streamSID == "" {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				h.logger.Warn("bad media payload", zap.Error(err))
				continue
			}
			if utterance, ok := ep.push(frame); ok {
				h.respond(ctx, conn, conv, utterance)
			}
		case "stop":
			h.metrics.CallEvents.WithLabelValues("stop").Inc()
			h.logger.Info("media stream stopped", zap.String("call_sid", conv.callSID))
			if tail, ok := ep.flush(); ok {
				h.captureTail(ctx, conv, tail)
			}
			h.finalize(conv)
			return
		}
	}

	// Socket dropped without a stop event; still settle the memory note.
	h.finalize(conv)
}

func (h *Handler) handleStart(ctx context.Context, conv *conversation, start *startPayload) {
	if start == nil {
		return
	}
	conv.streamSID = start.StreamSID
	conv.callSID = start.CallSID
	conv.toNumber = start.CustomParameters["to_number"]
	conv.fromNumber = start.CustomParameters["from_number"]

	persona := agent.CallPersonaPrompt()
	if conv.fromNumber != "" {
		if note, ok := h.agent.PreviousNote(ctx, conv.fromNumber); ok {
			persona = agent.CallPersonaWithNote(note)
		}
	}
	conv.append(session.RoleSystem, persona)

	h.metrics.CallEvents.WithLabelValues("start").Inc()
	h.logger.Info("call started",
		zap.String("call_sid", conv.callSID),
		zap.String("to", conv.toNumber),
		zap.String("from", conv.fromNumber))
}

// respond runs one utterance through the speech pipeline and streams the
// spoken reply back over the socket.
func (h *Handler) respond(ctx context.Context, conn *websocket.Conn, conv *conversation, mulaw []byte) {
	pcm := audio.DecodeMuLaw(mulaw)
	wav, err := audio.EncodeWAVPCM16LE(pcm, h.cfg.SampleRate)
	if err != nil {
		h.logger.Error("wav encoding failed", zap.Error(err))
		return
	}

	text, err := h.transcriber.Transcribe(ctx, wav)
	if err != nil {
		h.logger.Error("call transcription failed", zap.String("call_sid", conv.callSID), zap.Error(err))
		h.metrics.ProviderErrors.WithLabelValues("stt", "transcribe").Inc()
		return
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < h.cfg.MinUtteranceLen {
		return
	}

	conv.append(session.RoleUser, text)

	reply, err := h.client.Complete(ctx, llm.CompletionRequest{
		Model:       h.cfg.ChatModelID,
		Messages:    conv.messages(),
		Temperature: h.cfg.ReplyTemperature,
		MaxTokens:   h.cfg.ReplyMaxTokens,
	})
	if err != nil {
		h.logger.Error("call completion failed", zap.String("call_sid", conv.callSID), zap.Error(err))
		h.metrics.ProviderErrors.WithLabelValues("llm", "completion").Inc()
		reply = agent.FallbackReply()
	}
	conv.append(session.RoleAssistant, reply)
	h.metrics.CallEvents.WithLabelValues("reply").Inc()

	if err := h.speak(ctx, conn, conv.streamSID, reply); err != nil {
		h.logger.Error("speaking reply failed", zap.String("call_sid", conv.callSID), zap.Error(err))
	}
}

func (h *Handler) speak(ctx context.Context, conn *websocket.Conn, streamSID, text string) error {
	stream, mediaType, err := h.synthesizer.Synthesize(ctx, text)
	if err != nil {
		h.metrics.ProviderErrors.WithLabelValues("tts", "synthesize").Inc()
		return fmt.Errorf("synthesize: %w", err)
	}
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	if err != nil {
		return fmt.Errorf("read synthesized audio: %w", err)
	}

	mulaw, err := toMuLaw(raw, mediaType)
	if err != nil {
		return err
	}

	for off := 0; off < len(mulaw); off += outboundFrameSize {
		end := off + outboundFrameSize
		if end > len(mulaw) {
			end = len(mulaw)
		}
		frame := outboundMedia{
			Event:     "media",
			StreamSID: streamSID,
			Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw[off:end])},
		}
		if err := conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("write media frame: %w", err)
		}
	}

	mark := outboundMark{Event: "mark", StreamSID: streamSID, Mark: markName{Name: "reply"}}
	if err := conn.WriteJSON(mark); err != nil {
		return fmt.Errorf("write mark: %w", err)
	}
	return nil
}

// toMuLaw converts synthesized audio to the 8 kHz mu-law Twilio expects. WAV
// payloads are transcoded; anything else is assumed to already be raw mu-law
// (the telephony synthesizer is configured for ulaw_8000 output).
func toMuLaw(raw []byte, mediaType string) ([]byte, error) {
	switch {
	case strings.Contains(mediaType, "wav"):
		pcm, err := audio.PCMFromWAV(raw)
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		return audio.EncodeMuLaw(pcm), nil
	case strings.Contains(mediaType, "mpeg"):
		return nil, fmt.Errorf("mp3 output cannot be streamed to the call, configure ulaw_8000")
	default:
		return raw, nil
	}
}

// captureTail transcribes audio still buffered when the stream stops, so the
// caller's last words make it into the memory note even without a reply.
func (h *Handler) captureTail(ctx context.Context, conv *conversation, mulaw []byte) {
	wav, err := audio.EncodeWAVPCM16LE(audio.DecodeMuLaw(mulaw), h.cfg.SampleRate)
	if err != nil {
		return
	}
	text, err := h.transcriber.Transcribe(ctx, wav)
	if err != nil || utf8.RuneCountInString(strings.TrimSpace(text)) < h.cfg.MinUtteranceLen {
		return
	}
	conv.append(session.RoleUser, text)
}

// finalize merges the finished call into the caller's memory note.
func (h *Handler) finalize(conv *conversation) {
	if conv.fromNumber == "" || !conv.hasDialogue() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if _, err := h.agent.Finalize(ctx, conv.fromNumber, conv.turns); err != nil {
		h.logger.Error("call finalization failed",
			zap.String("call_sid", conv.callSID),
			zap.String("from", conv.fromNumber),
			zap.Error(err))
		h.metrics.CallEvents.WithLabelValues("finalize_failed").Inc()
		return
	}
	h.metrics.CallEvents.WithLabelValues("finalized").Inc()
}
