package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/voidisnull/rw-agent/internal/llm"
	"github.com/voidisnull/rw-agent/internal/memory"
	"github.com/voidisnull/rw-agent/internal/observability"
	"github.com/voidisnull/rw-agent/internal/recall"
	"github.com/voidisnull/rw-agent/internal/session"
)

// Options carries the tunables for reply generation and summarization.
type Options struct {
	ChatModelID        string
	InsightModelID     string
	MinUtteranceLen    int
	RecallTopK         int
	ReplyTemperature   float64
	ReplyMaxTokens     int
	SummaryTemperature float64
	SummaryMaxTokens   int
}

func (o *Options) applyDefaults() {
	if o.MinUtteranceLen <= 0 {
		o.MinUtteranceLen = 3
	}
	if o.RecallTopK <= 0 {
		o.RecallTopK = 3
	}
	if o.ReplyTemperature <= 0 {
		o.ReplyTemperature = 0.8
	}
	if o.ReplyMaxTokens <= 0 {
		o.ReplyMaxTokens = 150
	}
	if o.SummaryTemperature <= 0 {
		o.SummaryTemperature = 0.5
	}
	if o.SummaryMaxTokens <= 0 {
		o.SummaryMaxTokens = 150
	}
}

// Agent generates session replies and maintains the rolling cross-call memory.
//
// Two summarization paths coexist on purpose: Summarize feeds the similarity
// index after a web session, Finalize merges into the per-identity note after a
// telephone call. They share prompts but not persistence targets.
type Agent struct {
	sessions *session.Store
	client   llm.Client
	index    recall.Index
	notes    memory.Store
	metrics  *observability.Metrics
	logger   *zap.Logger
	opts     Options
}

func New(sessions *session.Store, client llm.Client, index recall.Index, notes memory.Store, metrics *observability.Metrics, logger *zap.Logger, opts Options) *Agent {
	opts.applyDefaults()
	return &Agent{
		sessions: sessions,
		client:   client,
		index:    index,
		notes:    notes,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// Reply appends the utterance to the session transcript, generates a reply
// through the completion service, appends it, and returns it.
//
// Utterances shorter than the configured minimum (after trimming) are treated
// as likely noise: the result is an empty string and no external call is made.
// Completion failures surface as a fixed user-safe fallback line; the user turn
// already appended stays in the transcript.
func (a *Agent) Reply(ctx context.Context, sessionID, utterance string) string {
	trimmed := strings.TrimSpace(utterance)
	if utf8.RuneCountInString(trimmed) < a.opts.MinUtteranceLen {
		a.logger.Debug("utterance below minimum length, skipping",
			zap.String("session_id", sessionID))
		return ""
	}

	start := time.Now()

	if len(a.sessions.Snapshot(sessionID)) == 0 {
		a.primeSession(ctx, sessionID, trimmed)
	}

	a.sessions.Append(sessionID, session.RoleUser, trimmed)

	reply, err := a.client.Complete(ctx, llm.CompletionRequest{
		Model:       a.opts.ChatModelID,
		Messages:    toMessages(a.sessions.Snapshot(sessionID)),
		Temperature: a.opts.ReplyTemperature,
		MaxTokens:   a.opts.ReplyMaxTokens,
	})
	if err != nil {
		a.logger.Error("completion failed", zap.String("session_id", sessionID), zap.Error(err))
		a.metrics.Replies.WithLabelValues("fallback").Inc()
		a.metrics.ProviderErrors.WithLabelValues("llm", "completion").Inc()
		return fallbackReply
	}

	a.sessions.Append(sessionID, session.RoleAssistant, reply)
	a.metrics.Replies.WithLabelValues("ok").Inc()
	a.metrics.ObserveReplyLatency(time.Since(start))
	a.logger.Info("reply generated",
		zap.String("session_id", sessionID),
		zap.Int("reply_len", len(reply)))
	return reply
}

// primeSession seeds the system persona turn and, when prior-session fragments
// match the opening utterance, rewrites it with the remembered-context variant.
// Runs only when the transcript is empty, so exactly one retrieval query per
// session.
func (a *Agent) primeSession(ctx context.Context, sessionID, utterance string) {
	prompt := personaPrompt

	matches, err := a.index.Query(ctx, utterance, a.opts.RecallTopK)
	if err != nil {
		a.logger.Warn("memory retrieval failed", zap.String("session_id", sessionID), zap.Error(err))
		a.metrics.ProviderErrors.WithLabelValues("recall", "query").Inc()
	} else if len(matches) > 0 {
		texts := make([]string, 0, len(matches))
		for _, m := range matches {
			if strings.TrimSpace(m.Text) != "" {
				texts = append(texts, m.Text)
			}
		}
		if len(texts) > 0 {
			prompt = enrichedPersonaPrompt(strings.Join(texts, " "))
			a.logger.Debug("seeded session with prior memory",
				zap.String("session_id", sessionID),
				zap.Int("fragments", len(texts)))
		}
	}

	a.sessions.Append(sessionID, session.RoleSystem, prompt)
}

// Summarize condenses the session's user/assistant turns into a short memory
// note and stores it as a fragment in the similarity index. The second return
// is false when there was nothing to summarize or the completion failed;
// failures are logged, never raised.
func (a *Agent) Summarize(ctx context.Context, sessionID string) (string, bool) {
	return a.SummarizeTurns(ctx, sessionID, a.sessions.Snapshot(sessionID))
}

// SummarizeTurns is Summarize over an explicit transcript snapshot, for callers
// that clear the session before the background summary runs.
func (a *Agent) SummarizeTurns(ctx context.Context, sessionID string, turns []session.Turn) (string, bool) {
	transcript := linearTranscript(turns)
	if transcript == "" {
		a.logger.Debug("no conversation to summarize", zap.String("session_id", sessionID))
		return "", false
	}

	note, err := a.client.Complete(ctx, llm.CompletionRequest{
		Model:       a.opts.InsightModelID,
		Messages:    []llm.Message{{Role: "system", Content: sessionSummaryPrompt(transcript)}},
		Temperature: a.opts.SummaryTemperature,
		MaxTokens:   a.opts.SummaryMaxTokens,
	})
	if err != nil {
		a.logger.Error("session summary failed", zap.String("session_id", sessionID), zap.Error(err))
		a.metrics.SummaryEvents.WithLabelValues("failed").Inc()
		return "", false
	}
	note = strings.TrimSpace(note)
	if note == "" {
		a.logger.Warn("empty summary output", zap.String("session_id", sessionID))
		a.metrics.SummaryEvents.WithLabelValues("empty").Inc()
		return "", false
	}

	fragment := recall.Fragment{
		ID:        fragmentID(note),
		Text:      note,
		SessionID: sessionID,
	}
	if err := a.index.Add(ctx, fragment); err != nil {
		a.logger.Error("storing memory fragment failed", zap.String("session_id", sessionID), zap.Error(err))
		a.metrics.SummaryEvents.WithLabelValues("store_failed").Inc()
		return "", false
	}

	a.metrics.SummaryEvents.WithLabelValues("stored").Inc()
	a.logger.Info("stored session summary",
		zap.String("session_id", sessionID),
		zap.String("fragment_id", fragment.ID))
	return note, true
}

// Finalize merges a finished call's transcript with the identity's previous
// memory note and upserts the result. Reconciliation of old vs. new facts is
// delegated entirely to the model.
func (a *Agent) Finalize(ctx context.Context, identity string, turns []session.Turn) (string, error) {
	transcript := linearTranscript(turns)
	if transcript == "" {
		return "", fmt.Errorf("no conversation to finalize for %s", identity)
	}

	previous, _, err := a.notes.Get(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("load previous note: %w", err)
	}

	note, err := a.client.Complete(ctx, llm.CompletionRequest{
		Model: a.opts.InsightModelID,
		Messages: []llm.Message{
			{Role: "system", Content: memorySummaryPrompt},
			{Role: "user", Content: mergeInstruction(previous, transcript)},
		},
		Temperature: a.opts.SummaryTemperature,
		MaxTokens:   a.opts.SummaryMaxTokens,
	})
	if err != nil {
		a.metrics.SummaryEvents.WithLabelValues("finalize_failed").Inc()
		return "", fmt.Errorf("merge summary: %w", err)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		a.metrics.SummaryEvents.WithLabelValues("finalize_empty").Inc()
		return "", fmt.Errorf("empty merged note for %s", identity)
	}

	if err := a.notes.Upsert(ctx, identity, note); err != nil {
		return "", fmt.Errorf("persist note: %w", err)
	}

	a.metrics.SummaryEvents.WithLabelValues("finalized").Inc()
	a.logger.Info("finalized call memory", zap.String("identity", identity))
	return note, nil
}

// PreviousNote returns the stored memory note for an identity, if any.
func (a *Agent) PreviousNote(ctx context.Context, identity string) (string, bool) {
	note, ok, err := a.notes.Get(ctx, identity)
	if err != nil {
		a.logger.Warn("loading previous note failed", zap.String("identity", identity), zap.Error(err))
		return "", false
	}
	return note, ok
}

func toMessages(turns []session.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	return msgs
}

// linearTranscript renders user/assistant turns as "role: text" lines; system
// turns are excluded from all summaries.
func linearTranscript(turns []session.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Role != session.RoleUser && t.Role != session.RoleAssistant {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

func fragmentID(note string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(note))
	return fmt.Sprintf("mem_%x", h.Sum64())
}
