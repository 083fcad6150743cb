package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	st := NewState("thread-1", "ocean thermal energy")

	assert.Equal(t, "thread-1", st.ThreadID)
	assert.Equal(t, "ocean thermal energy", st.Topic)
	assert.Equal(t, PhaseWriterThinking, st.Phase)
	assert.False(t, st.Terminal())
	assert.Empty(t, st.WriterHistory)
	assert.Zero(t, st.IterationCount)
}

func TestAppendHistories(t *testing.T) {
	st := NewState("t", "topic")

	st.AppendWriter(Message{Role: RoleSystem, Content: "sys"})
	st.AppendWriter(
		Message{Role: RoleUser, Content: "topic"},
		Message{Role: RoleAssistant, Content: "draft"},
	)
	st.AppendCritic(Message{Role: RoleSystem, Content: "critic sys"})

	require.Len(t, st.WriterHistory, 3)
	require.Len(t, st.CriticHistory, 1)
	assert.Equal(t, RoleAssistant, st.WriterHistory[2].Role)
}

func TestTerminal(t *testing.T) {
	st := NewState("t", "topic")
	for _, p := range []Phase{
		PhaseWriterThinking, PhaseWriterToolCall,
		PhaseCriticThinking, PhaseCriticToolCall, PhaseAdvancing,
	} {
		st.Phase = p
		assert.False(t, st.Terminal(), string(p))
	}
	st.Phase = PhaseTerminal
	assert.True(t, st.Terminal())
}

func TestCloneIsDeep(t *testing.T) {
	st := NewState("t", "topic")
	st.AppendWriter(Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "search_web", Arguments: `{"query":"x"}`},
		},
	})
	st.CurrentDraft = "original"

	cp := st.Clone()
	cp.CurrentDraft = "mutated"
	cp.WriterHistory[0].ToolCalls[0].Name = "visit_page"
	cp.AppendWriter(Message{Role: RoleTool, Content: "result"})

	assert.Equal(t, "original", st.CurrentDraft)
	assert.Equal(t, "search_web", st.WriterHistory[0].ToolCalls[0].Name)
	assert.Len(t, st.WriterHistory, 1)
}

func TestCloneNil(t *testing.T) {
	var st *State
	assert.Nil(t, st.Clone())
}
