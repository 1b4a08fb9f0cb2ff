package shuttle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{StateUnknown, StateQueued, true},
		{StateQueued, StateInvocationPromptPending, true},
		{StateInvocationPromptPending, StateAgentInvoking, true},
		{StateInvocationPromptPending, StateFailed, true},
		{StateInvocationPromptPending, StateDone, true},
		{StateAgentInvoking, StateNotifying, true},
		{StateAgentInvoking, StateFailed, true},
		{StateNotifying, StateDone, true},
		{StateNotifying, StateFailed, false},
		{StateQueued, StateFailed, false},
		{StateQueued, StateAgentInvoking, false},
		{StateDone, StateQueued, false},
		{StateFailed, StateQueued, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestJobState_String(t *testing.T) {
	assert.Equal(t, "InvocationPromptPending", StateInvocationPromptPending.String())
	assert.Equal(t, "JobState(42)", JobState(42).String())

	text, err := StateDone.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "Done", string(text))

	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateNotifying.Terminal())
}
