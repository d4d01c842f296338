package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voidisnull/rw-agent/internal/agent"
	"github.com/voidisnull/rw-agent/internal/background"
	"github.com/voidisnull/rw-agent/internal/config"
	"github.com/voidisnull/rw-agent/internal/observability"
	"github.com/voidisnull/rw-agent/internal/session"
	"github.com/voidisnull/rw-agent/internal/telephony"
	"github.com/voidisnull/rw-agent/internal/voice"
)

// maxAudioUpload caps browser audio uploads at 10 MiB.
const maxAudioUpload = 10 << 20

// defaultSessionID is used when the client does not scope its requests.
const defaultSessionID = "default"

// Dialer places outbound telephone calls.
type Dialer interface {
	Dialout(ctx context.Context, req telephony.DialoutRequest, twimlURL string) (telephony.DialoutResult, error)
}

type Server struct {
	cfg         config.Config
	agent       *agent.Agent
	sessions    *session.Store
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	dialer      Dialer
	mediaStream http.Handler
	tasks       *background.Registry
	metrics     *observability.Metrics
	logger      *zap.Logger
	static      http.Handler
}

func New(cfg config.Config, ag *agent.Agent, sessions *session.Store, transcriber voice.Transcriber, synthesizer voice.Synthesizer, dialer Dialer, mediaStream http.Handler, tasks *background.Registry, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		agent:       ag,
		sessions:    sessions,
		transcriber: transcriber,
		synthesizer: synthesizer,
		dialer:      dialer,
		mediaStream: mediaStream,
		tasks:       tasks,
		metrics:     metrics,
		logger:      logger,
		static:      uiHandler(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Handle("/", s.static)
	r.Handle("/static/*", http.StripPrefix("/static/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/session", s.handleNewSession)
	r.Post("/process-audio", s.handleProcessAudio)
	r.Post("/chat", s.handleChat)
	r.Post("/stt", s.handleSTT)
	r.Post("/tts", s.handleTTS)
	r.Post("/end", s.handleEnd)

	r.Post("/dialout", s.handleDialout)
	r.Post("/twiml", s.handleTwiML)
	if s.mediaStream != nil {
		r.Get("/ws", s.mediaStream.ServeHTTP)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": s.cfg.Environment,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
		"pending_tasks":   s.tasks.Pending(),
	})
}

// handleNewSession issues a fresh session id so each browser tab gets its own
// transcript. Clients that skip this fall back to the shared default session.
func (s *Server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	respondJSON(w, http.StatusOK, map[string]string{"session_id": uuid.NewString()})
}

// handleProcessAudio runs the full browser voice loop: audio in, transcript
// and reply out as headers, spoken reply as the body.
func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	file, err := audioFormFile(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_file", "audio file is required")
		return
	}
	defer file.Close()

	audioBytes, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sessionID := formValueOr(r, "session_id", defaultSessionID)

	transcript, err := s.transcriber.Transcribe(r.Context(), audioBytes)
	if err != nil {
		s.logger.Error("transcription failed", zap.String("session_id", sessionID), zap.Error(err))
		s.metrics.ProviderErrors.WithLabelValues("stt", "transcribe").Inc()
		respondError(w, http.StatusBadGateway, "stt_failed", "could not transcribe audio")
		return
	}
	if transcript == "" {
		respondError(w, http.StatusBadRequest, "no_speech", "No valid speech detected")
		return
	}

	reply := s.agent.Reply(r.Context(), sessionID, transcript)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	if reply == "" {
		respondError(w, http.StatusBadRequest, "no_speech", "No valid speech detected")
		return
	}

	stream, mediaType, err := s.synthesizer.Synthesize(r.Context(), reply)
	if err != nil {
		s.logger.Error("speech synthesis failed", zap.String("session_id", sessionID), zap.Error(err))
		s.metrics.ProviderErrors.WithLabelValues("tts", "synthesize").Inc()
		respondError(w, http.StatusBadGateway, "tts_failed", "could not synthesize reply")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("X-Transcript", transcript)
	w.Header().Set("X-Reply", reply)
	if _, err := io.Copy(w, stream); err != nil {
		s.logger.Warn("streaming reply audio aborted", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// user_text is the canonical field; text is accepted from older clients.
	text := strings.TrimSpace(r.FormValue("user_text"))
	if text == "" {
		text = strings.TrimSpace(r.FormValue("text"))
	}
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_text is required")
		return
	}
	sessionID := formValueOr(r, "session_id", defaultSessionID)

	reply := s.agent.Reply(r.Context(), sessionID, text)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	if reply == "" {
		respondError(w, http.StatusBadRequest, "no_speech", "No valid speech detected")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	file, err := audioFormFile(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_file", "audio file is required")
		return
	}
	defer file.Close()

	audioBytes, err := io.ReadAll(io.LimitReader(file, maxAudioUpload))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	transcript, err := s.transcriber.Transcribe(r.Context(), audioBytes)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("stt", "transcribe").Inc()
		respondError(w, http.StatusBadGateway, "stt_failed", "could not transcribe audio")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"text": transcript})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(r.FormValue("text"))
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	stream, mediaType, err := s.synthesizer.Synthesize(r.Context(), text)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("tts", "synthesize").Inc()
		respondError(w, http.StatusBadGateway, "tts_failed", "could not synthesize text")
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", mediaType)
	if _, err := io.Copy(w, stream); err != nil {
		s.logger.Warn("streaming tts audio aborted", zap.Error(err))
	}
}

// handleEnd snapshots the transcript before clearing the session, then hands
// the snapshot to a background unit. The response never waits on the summary.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sessionID := formValueOr(r, "session_id", defaultSessionID)

	turns := s.sessions.Snapshot(sessionID)
	s.sessions.Clear(sessionID)
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))

	s.tasks.Go(sessionID, func(ctx context.Context) {
		s.agent.SummarizeTurns(ctx, sessionID, turns)
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Conversation ended. Memory update scheduled.",
	})
}

func (s *Server) handleDialout(w http.ResponseWriter, r *http.Request) {
	if s.dialer == nil {
		respondError(w, http.StatusServiceUnavailable, "telephony_disabled", "twilio credentials are not configured")
		return
	}
	if strings.TrimSpace(s.cfg.PublicBaseURL) == "" {
		respondError(w, http.StatusServiceUnavailable, "telephony_disabled", "public base url is not configured")
		return
	}

	var req telephony.DialoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ToNumber) == "" || strings.TrimSpace(req.FromNumber) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "to_number and from_number are required")
		return
	}

	twimlURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/twiml"
	result, err := s.dialer.Dialout(r.Context(), req, twimlURL)
	if err != nil {
		s.logger.Error("dialout failed", zap.String("to", req.ToNumber), zap.Error(err))
		s.metrics.ProviderErrors.WithLabelValues("twilio", "dialout").Inc()
		respondError(w, http.StatusBadGateway, "dialout_failed", err.Error())
		return
	}

	s.metrics.CallEvents.WithLabelValues("dialout").Inc()
	respondJSON(w, http.StatusOK, result)
}

// handleTwiML answers Twilio's call-control webhook with the media stream
// connect document.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to := r.FormValue("To")
	from := r.FormValue("From")

	body, err := telephony.StreamTwiML(telephony.StreamURL(s.cfg.PublicBaseURL), to, from)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("writing twiml aborted", zap.Error(err))
	}
}

// audioFormFile pulls the uploaded audio part; audio is the canonical field,
// file is accepted from older clients.
func audioFormFile(r *http.Request) (multipart.File, error) {
	if f, _, err := r.FormFile("audio"); err == nil {
		return f, nil
	}
	f, _, err := r.FormFile("file")
	return f, err
}

func formValueOr(r *http.Request, key, fallback string) string {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return fallback
	}
	return v
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
