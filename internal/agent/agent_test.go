package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/voidisnull/rw-agent/internal/llm"
	"github.com/voidisnull/rw-agent/internal/memory"
	"github.com/voidisnull/rw-agent/internal/observability"
	"github.com/voidisnull/rw-agent/internal/recall"
	"github.com/voidisnull/rw-agent/internal/session"
)

type stubClient struct {
	requests []llm.CompletionRequest
	replies  []string
	err      error
}

func (c *stubClient) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return "", c.err
	}
	if len(c.replies) == 0 {
		return "theek hai, noted", nil
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return reply, nil
}

type countingIndex struct {
	recall.Index
	queries int
}

func (c *countingIndex) Query(ctx context.Context, text string, k int) ([]recall.Match, error) {
	c.queries++
	return c.Index.Query(ctx, text, k)
}

func newTestAgent(t *testing.T, client llm.Client, index recall.Index) (*Agent, *session.Store, memory.Store) {
	t.Helper()
	sessions := session.NewStore(8)
	notes := memory.NewInMemoryStore()
	metrics := observability.NewMetrics("test_" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "_")))
	a := New(sessions, client, index, notes, metrics, zap.NewNop(), Options{
		ChatModelID:    "chat-model",
		InsightModelID: "insight-model",
	})
	return a, sessions, notes
}

func TestReplyShortUtteranceSkipsExternalCalls(t *testing.T) {
	client := &stubClient{}
	index := &countingIndex{Index: recall.NewInMemoryIndex()}
	a, sessions, _ := newTestAgent(t, client, index)

	if got := a.Reply(context.Background(), "s1", " ok "); got != "" {
		t.Fatalf("Reply = %q, want empty for 2-char utterance", got)
	}
	if len(client.requests) != 0 {
		t.Fatalf("completion calls = %d, want 0", len(client.requests))
	}
	if index.queries != 0 {
		t.Fatalf("retrieval queries = %d, want 0", index.queries)
	}
	if sessions.ActiveCount() != 0 {
		t.Fatalf("session was created for skipped utterance")
	}
}

func TestReplyPrimesOnFirstTurnOnly(t *testing.T) {
	client := &stubClient{}
	index := &countingIndex{Index: recall.NewInMemoryIndex()}
	a, sessions, _ := newTestAgent(t, client, index)

	a.Reply(context.Background(), "s1", "hi there")
	if index.queries != 1 {
		t.Fatalf("retrieval queries after first reply = %d, want 1", index.queries)
	}

	a.Reply(context.Background(), "s1", "painting update?")
	if index.queries != 1 {
		t.Fatalf("retrieval queries after second reply = %d, want 1", index.queries)
	}

	turns := sessions.Snapshot("s1")
	if turns[0].Role != session.RoleSystem {
		t.Fatalf("first turn role = %q, want system", turns[0].Role)
	}
}

func TestReplyEnrichesSystemTurnWithRecalledFragments(t *testing.T) {
	client := &stubClient{}
	index := recall.NewInMemoryIndex()
	if err := index.Add(context.Background(), recall.Fragment{
		ID:        "mem_1",
		Text:      "Customer puchha tha painting progress aur site visit ke baare mein",
		SessionID: "old",
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	a, sessions, _ := newTestAgent(t, client, index)

	a.Reply(context.Background(), "s1", "painting progress kya hai?")

	systemTurn := sessions.Snapshot("s1")[0]
	if !strings.Contains(systemTurn.Text, "painting progress aur site visit") {
		t.Fatalf("system turn not enriched with recalled fragment:\n%s", systemTurn.Text)
	}
	if !strings.Contains(systemTurn.Text, "recall what you already know") {
		t.Fatalf("system turn missing remembered-context instruction:\n%s", systemTurn.Text)
	}
}

func TestReplyAppendsUserAndAssistantTurns(t *testing.T) {
	client := &stubClient{replies: []string{"Haan, primer start ho gaya."}}
	a, sessions, _ := newTestAgent(t, client, recall.NewInMemoryIndex())

	got := a.Reply(context.Background(), "s1", "Kal ka painting complete hoga?")
	if got != "Haan, primer start ho gaya." {
		t.Fatalf("Reply = %q", got)
	}

	turns := sessions.Snapshot("s1")
	if len(turns) != 3 {
		t.Fatalf("transcript length = %d, want 3 (system+user+assistant)", len(turns))
	}
	if turns[1].Role != session.RoleUser || turns[2].Role != session.RoleAssistant {
		t.Fatalf("unexpected roles: %+v", turns)
	}

	req := client.requests[0]
	if req.Model != "chat-model" {
		t.Fatalf("model = %q", req.Model)
	}
	if req.Temperature != 0.8 || req.MaxTokens != 150 {
		t.Fatalf("sampling params = (%v, %d), want (0.8, 150)", req.Temperature, req.MaxTokens)
	}
}

func TestReplyFallbackOnCompletionError(t *testing.T) {
	client := &stubClient{err: errors.New("upstream down")}
	a, sessions, _ := newTestAgent(t, client, recall.NewInMemoryIndex())

	got := a.Reply(context.Background(), "s1", "painting update?")
	if got != fallbackReply {
		t.Fatalf("Reply = %q, want fallback line", got)
	}

	// The user turn appended before the failure stays; no rollback.
	turns := sessions.Snapshot("s1")
	if len(turns) != 2 || turns[1].Role != session.RoleUser {
		t.Fatalf("transcript after failure = %+v, want system+user", turns)
	}
}

func TestEndToEndSessionScenario(t *testing.T) {
	client := &stubClient{}
	a, sessions, _ := newTestAgent(t, client, recall.NewInMemoryIndex())
	ctx := context.Background()

	a.Reply(ctx, "s42", "Kal ka painting complete hoga?")
	a.Reply(ctx, "s42", "Aur site visit kab ho sakti hai?")

	turns := sessions.Snapshot("s42")
	if len(turns) != 5 {
		t.Fatalf("transcript length = %d, want 5 (1 system + 4 turns)", len(turns))
	}

	sessions.Clear("s42")
	if fresh := sessions.GetOrCreate("s42"); len(fresh.Turns) != 0 {
		t.Fatalf("session after clear has %d turns, want 0", len(fresh.Turns))
	}
}

func TestSummarizeAbsentWithoutConversation(t *testing.T) {
	client := &stubClient{}
	a, _, _ := newTestAgent(t, client, recall.NewInMemoryIndex())

	if _, ok := a.Summarize(context.Background(), "nope"); ok {
		t.Fatalf("Summarize of unknown session should be absent")
	}
	if len(client.requests) != 0 {
		t.Fatalf("completion calls = %d, want 0", len(client.requests))
	}
}

func TestSummarizeStoresFragment(t *testing.T) {
	client := &stubClient{replies: []string{"reply ho gaya", "Customer ne painting aur site visit pucha."}}
	index := recall.NewInMemoryIndex()
	a, _, _ := newTestAgent(t, client, index)
	ctx := context.Background()

	a.Reply(ctx, "s1", "painting update chahiye")

	note, ok := a.Summarize(ctx, "s1")
	if !ok {
		t.Fatalf("Summarize should produce a note")
	}
	if note != "Customer ne painting aur site visit pucha." {
		t.Fatalf("note = %q", note)
	}

	// Summary prompt excludes the system turn and carries the conversation.
	summaryReq := client.requests[len(client.requests)-1]
	if summaryReq.Model != "insight-model" {
		t.Fatalf("summary model = %q", summaryReq.Model)
	}
	prompt := summaryReq.Messages[0].Content
	if !strings.Contains(prompt, "user: painting update chahiye") {
		t.Fatalf("summary prompt missing conversation:\n%s", prompt)
	}
	if strings.Contains(prompt, "Miss Riverwood — the warm") {
		t.Fatalf("summary prompt should not embed the persona system turn")
	}

	matches, err := index.Query(ctx, "painting site visit", 3)
	if err != nil || len(matches) == 0 {
		t.Fatalf("stored fragment not retrievable: %v %v", matches, err)
	}
	if matches[0].SessionID != "s1" {
		t.Fatalf("fragment session id = %q, want s1", matches[0].SessionID)
	}
	if !strings.HasPrefix(matches[0].ID, "mem_") {
		t.Fatalf("fragment id = %q, want mem_ prefix", matches[0].ID)
	}
}

func TestSummarizeAbsentOnCompletionFailure(t *testing.T) {
	client := &stubClient{}
	a, sessions, _ := newTestAgent(t, client, recall.NewInMemoryIndex())
	sessions.Append("s1", session.RoleUser, "hello there")

	client.err = errors.New("boom")
	if _, ok := a.Summarize(context.Background(), "s1"); ok {
		t.Fatalf("Summarize should be absent on completion failure")
	}
}

func TestFinalizeMergesWithPreviousNote(t *testing.T) {
	client := &stubClient{replies: []string{"Pehli call: painting discuss hui.", "Updated: painting done, ab site visit planned."}}
	a, _, notes := newTestAgent(t, client, recall.NewInMemoryIndex())
	ctx := context.Background()

	firstCall := []session.Turn{
		{Role: session.RoleUser, Text: "painting kab hogi?"},
		{Role: session.RoleAssistant, Text: "kal tak first coat"},
	}
	note, err := a.Finalize(ctx, "+919800000001", firstCall)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if note != "Pehli call: painting discuss hui." {
		t.Fatalf("first note = %q", note)
	}

	firstPrompt := client.requests[0].Messages[1].Content
	if strings.Contains(firstPrompt, "PREVIOUS MEMORY") {
		t.Fatalf("first finalize should not reference previous memory:\n%s", firstPrompt)
	}

	secondCall := []session.Turn{
		{Role: session.RoleUser, Text: "site visit Saturday ho sakti hai?"},
	}
	note, err = a.Finalize(ctx, "+919800000001", secondCall)
	if err != nil {
		t.Fatalf("second Finalize() error = %v", err)
	}

	// The merge prompt must reference both the prior note and the new transcript.
	mergePrompt := client.requests[1].Messages[1].Content
	if !strings.Contains(mergePrompt, "PREVIOUS MEMORY:\nPehli call: painting discuss hui.") {
		t.Fatalf("merge prompt missing previous note:\n%s", mergePrompt)
	}
	if !strings.Contains(mergePrompt, "user: site visit Saturday ho sakti hai?") {
		t.Fatalf("merge prompt missing new transcript:\n%s", mergePrompt)
	}

	stored, ok, err := notes.Get(ctx, "+919800000001")
	if err != nil || !ok {
		t.Fatalf("note not stored: ok=%v err=%v", ok, err)
	}
	if stored != "Updated: painting done, ab site visit planned." {
		t.Fatalf("stored note = %q, want replaced value", stored)
	}
}

func TestFinalizeRequiresConversation(t *testing.T) {
	client := &stubClient{}
	a, _, _ := newTestAgent(t, client, recall.NewInMemoryIndex())
	if _, err := a.Finalize(context.Background(), "+91", nil); err == nil {
		t.Fatalf("Finalize without turns should fail")
	}
}
