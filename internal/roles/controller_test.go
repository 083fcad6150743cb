package roles

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spasmodic123/search-agent/internal/llm"
	"github.com/spasmodic123/search-agent/internal/session"
)

// scriptedClient returns queued responses in order and records every call.
type scriptedClient struct {
	script []scriptedTurn
	calls  []recordedCall
}

type scriptedTurn struct {
	resp *llm.Response
	err  error
}

type recordedCall struct {
	history []session.Message
	opts    llm.GenerateOptions
}

func (s *scriptedClient) Generate(_ context.Context, history []session.Message, opts llm.GenerateOptions) (*llm.Response, error) {
	cp := make([]session.Message, len(history))
	copy(cp, history)
	s.calls = append(s.calls, recordedCall{history: cp, opts: opts})

	if len(s.script) == 0 {
		return nil, errors.New("script exhausted")
	}
	turn := s.script[0]
	s.script = s.script[1:]
	return turn.resp, turn.err
}

func text(t string) scriptedTurn {
	return scriptedTurn{resp: &llm.Response{Text: t}}
}

func toolRequest(id, name, args string) scriptedTurn {
	return scriptedTurn{resp: &llm.Response{ToolCalls: []session.ToolCall{
		{ID: id, Name: name, Arguments: args},
	}}}
}

func failWith(err error) scriptedTurn {
	return scriptedTurn{err: err}
}

func TestWriterFirstTurnSeedsPromptAndTopic(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		toolRequest("c1", "search_web", `{"query":"x"}`),
	}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "kelp farming economics")
	sig, err := w.Step(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, SignalToolRequested, sig)

	require.GreaterOrEqual(t, len(st.WriterHistory), 3)
	assert.Equal(t, session.RoleSystem, st.WriterHistory[0].Role)
	assert.Equal(t, writerSystemPrompt, st.WriterHistory[0].Content)
	assert.Equal(t, session.RoleUser, st.WriterHistory[1].Role)
	assert.Equal(t, "kelp farming economics", st.WriterHistory[1].Content)
	assert.Equal(t, session.RoleAssistant, st.WriterHistory[2].Role)
	require.Len(t, st.WriterHistory[2].ToolCalls, 1)
}

func TestWriterCapturesDraft(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{text("# Report\n\nfindings")}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	sig, err := w.Step(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, SignalTextProduced, sig)
	assert.Equal(t, "# Report\n\nfindings", st.CurrentDraft)
}

func TestWriterFeedbackInjectionIsIdempotent(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		text("revised draft"),
		text("revised again"),
	}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	st.AppendWriter(
		session.Message{Role: session.RoleSystem, Content: writerSystemPrompt},
		session.Message{Role: session.RoleUser, Content: "topic"},
		session.Message{Role: session.RoleAssistant, Content: "first draft"},
	)
	st.CurrentDraft = "first draft"
	st.Score = 5
	st.CritiqueAdvice = "add sources for the cost figures"
	st.IterationCount = 1

	_, err = w.Step(context.Background(), st)
	require.NoError(t, err)

	count := func() int {
		n := 0
		for _, m := range st.WriterHistory {
			if m.Role == session.RoleUser && m.Content == feedbackPrompt(5, "add sources for the cost figures") {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, count())

	// A second step with the same advice must not inject it again.
	_, err = w.Step(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 1, count())
}

func TestWriterNoFeedbackOnFirstIteration(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{text("draft")}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	st.CritiqueAdvice = "stale advice from a resumed snapshot"

	_, err = w.Step(context.Background(), st)
	require.NoError(t, err)
	for _, m := range st.WriterHistory {
		assert.NotContains(t, m.Content, "stale advice")
	}
}

func TestCriticParsesVerdict(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		text("<advice>\nCite the 2024 figures.\n</advice>\n\n<score>\n6\n</score>"),
	}}
	c, err := NewCritic(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	st.CurrentDraft = "draft under review"

	sig, err := c.Step(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, SignalTextProduced, sig)
	assert.Equal(t, 6, st.Score)
	assert.Equal(t, "Cite the 2024 figures.", st.CritiqueAdvice)

	// The review prompt wrapped the draft.
	found := false
	for _, m := range st.CriticHistory {
		if m.Role == session.RoleUser && m.Content == reviewPrompt("draft under review") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCriticReviewPromptOncePerIteration(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		toolRequest("c1", "search_web", `{"query":"verify"}`),
		text("<advice>fine</advice><score>8</score>"),
	}}
	c, err := NewCritic(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	st.CurrentDraft = "the draft"

	_, err = c.Step(context.Background(), st)
	require.NoError(t, err)

	// Tool results arrive, budget advances, critic thinks again.
	st.AppendCritic(session.Message{Role: session.RoleTool, Name: "search_web", ToolCallID: "c1", Content: "results"})
	st.CriticToolBudgetUsed = 1

	_, err = c.Step(context.Background(), st)
	require.NoError(t, err)

	n := 0
	for _, m := range st.CriticHistory {
		if m.Role == session.RoleUser && m.Content == reviewPrompt("the draft") {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestCriticResetNoticeOnLaterIterations(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		text("<advice>better</advice><score>9</score>"),
	}}
	c, err := NewCritic(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	st.AppendCritic(session.Message{Role: session.RoleSystem, Content: criticSystemPrompt})
	st.CurrentDraft = "revised draft"
	st.IterationCount = 1
	st.CriticToolBudgetUsed = 0

	_, err = c.Step(context.Background(), st)
	require.NoError(t, err)

	found := false
	for _, m := range st.CriticHistory {
		if m.Role == session.RoleSystem && m.Content == criticResetNotice {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBudgetExhaustionDisablesTools(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{text("final report")}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	st.WriterToolBudgetUsed = BudgetMax

	sig, err := w.Step(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, SignalTextProduced, sig)

	require.Len(t, client.calls, 1)
	assert.False(t, client.calls[0].opts.ToolsEnabled)

	noticed := false
	for _, m := range st.WriterHistory {
		if m.Role == session.RoleSystem && m.Content == writerBudgetNotice {
			noticed = true
		}
	}
	assert.True(t, noticed)
}

func TestBudgetNoticeNotDuplicated(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{text("a"), text("b")}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	st.WriterToolBudgetUsed = BudgetMax

	_, err = w.Step(context.Background(), st)
	require.NoError(t, err)
	_, err = w.Step(context.Background(), st)
	require.NoError(t, err)

	n := 0
	for _, m := range st.WriterHistory {
		if m.Content == writerBudgetNotice {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestMalformedResponseInjectsCorrectiveNotice(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		failWith(fmt.Errorf("%w: raw tool-call syntax", llm.ErrMalformedResponse)),
	}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	sig, err := w.Step(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, SignalToolRequested, sig)

	last := st.WriterHistory[len(st.WriterHistory)-1]
	assert.Equal(t, session.RoleSystem, last.Role)
	assert.Equal(t, correctiveNotice, last.Content)
}

func TestContentPolicyRecoverySanitizesLastToolResult(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		failWith(fmt.Errorf("%w: 400", llm.ErrContentPolicy)),
		text("recovered draft"),
	}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	st.AppendWriter(
		session.Message{Role: session.RoleSystem, Content: writerSystemPrompt},
		session.Message{Role: session.RoleUser, Content: "topic"},
		session.Message{Role: session.RoleAssistant, ToolCalls: []session.ToolCall{{ID: "c1", Name: "visit_page"}}},
		session.Message{Role: session.RoleTool, Name: "visit_page", ToolCallID: "c1", Content: "objectionable page text"},
	)

	sig, err := w.Step(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, SignalTextProduced, sig)
	assert.Equal(t, "recovered draft", st.CurrentDraft)

	// The offending result was replaced before the retry.
	require.Len(t, client.calls, 2)
	retryHist := client.calls[1].history
	assert.Equal(t, sanitizedToolResult, retryHist[len(retryHist)-1].Content)
	assert.Equal(t, sanitizedToolResult, st.WriterHistory[3].Content)
	// Correlation metadata survives sanitization.
	assert.Equal(t, "c1", st.WriterHistory[3].ToolCallID)
}

func TestContentPolicyFatalWithoutToolResult(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		failWith(fmt.Errorf("%w: 400", llm.ErrContentPolicy)),
	}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	_, err = w.Step(context.Background(), st)
	assert.ErrorIs(t, err, llm.ErrContentPolicy)
}

func TestProviderUnavailableIsFatal(t *testing.T) {
	client := &scriptedClient{script: []scriptedTurn{
		failWith(fmt.Errorf("%w: connection refused", llm.ErrProviderUnavailable)),
	}}
	w, err := NewWriter(client, nil)
	require.NoError(t, err)

	st := session.NewState("t", "topic")
	_, err = w.Step(context.Background(), st)
	assert.ErrorIs(t, err, llm.ErrProviderUnavailable)
}

func TestNewControllerRequiresClient(t *testing.T) {
	_, err := NewWriter(nil, nil)
	assert.Error(t, err)
	_, err = NewCritic(nil, nil)
	assert.Error(t, err)
}
