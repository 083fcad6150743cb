package session

import (
	"time"
)

// Role tags a message with its conversational origin.
type Role string

const (
	// RoleSystem carries prompts and injected control notices.
	RoleSystem Role = "system"
	// RoleUser carries the topic, review prompts, and critic feedback.
	RoleUser Role = "user"
	// RoleAssistant carries provider output, text or tool requests.
	RoleAssistant Role = "assistant"
	// RoleTool carries tool results correlated to a prior tool call.
	RoleTool Role = "tool"
)

// Phase is the orchestration state persisted with the session, so a thread
// can resume exactly where its last completed step left it.
type Phase string

const (
	PhaseWriterThinking Phase = "writer_thinking"
	PhaseWriterToolCall Phase = "writer_tool_call"
	PhaseCriticThinking Phase = "critic_thinking"
	PhaseCriticToolCall Phase = "critic_tool_call"
	PhaseAdvancing      Phase = "advancing"
	PhaseTerminal       Phase = "terminal"
)

// ToolCall is a single tool invocation requested by the provider.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one role-tagged entry in a conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// State is the complete, persistable state of one thread.
type State struct {
	ThreadID string `json:"thread_id"`
	Topic    string `json:"topic"`

	WriterHistory []Message `json:"writer_history"`
	CriticHistory []Message `json:"critic_history"`

	// CurrentDraft is the latest writer output produced without a tool
	// request. Overwritten, never appended.
	CurrentDraft   string `json:"current_draft"`
	CritiqueAdvice string `json:"critique_advice"`
	Score          int    `json:"score"`

	// IterationCount counts completed writer→critic cycles.
	IterationCount int `json:"iteration_count"`

	// Per-cycle tool-turn counters, reset on each new iteration.
	WriterToolBudgetUsed int `json:"writer_tool_budget_used"`
	CriticToolBudgetUsed int `json:"critic_tool_budget_used"`

	Phase     Phase     `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates an empty session for a thread, positioned at the
// writer's first turn.
func NewState(threadID, topic string) *State {
	return &State{
		ThreadID:  threadID,
		Topic:     topic,
		Phase:     PhaseWriterThinking,
		UpdatedAt: time.Now(),
	}
}

// AppendWriter appends messages to the writer history.
func (s *State) AppendWriter(msgs ...Message) {
	s.WriterHistory = append(s.WriterHistory, msgs...)
}

// AppendCritic appends messages to the critic history.
func (s *State) AppendCritic(msgs ...Message) {
	s.CriticHistory = append(s.CriticHistory, msgs...)
}

// Terminal reports whether the session has reached its final state.
func (s *State) Terminal() bool {
	return s.Phase == PhaseTerminal
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state in place.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.WriterHistory = cloneMessages(s.WriterHistory)
	cp.CriticHistory = cloneMessages(s.CriticHistory)
	return &cp
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if len(msgs[i].ToolCalls) > 0 {
			out[i].ToolCalls = make([]ToolCall, len(msgs[i].ToolCalls))
			copy(out[i].ToolCalls, msgs[i].ToolCalls)
		}
	}
	return out
}
