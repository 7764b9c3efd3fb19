package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetResponseOnlyOnce(t *testing.T) {
	c := &ChatCycle{ID: "c1"}
	require.NoError(t, c.SetResponse(Message{Text: "done"}))
	assert.ErrorIs(t, c.SetResponse(Message{Text: "again"}), ErrResponseAlreadySet)
	assert.Equal(t, "done", c.Response.Text)
	assert.True(t, c.Responded())
}

func TestLLMCalls(t *testing.T) {
	c := &ChatCycle{PromptCycles: []*PromptCycle{
		{Answers: []string{"a"}},
		{Answers: []string{"b", "c"}},
		{LLMDurations: []time.Duration{time.Second}, Errors: []string{"quota"}},
	}}
	assert.Equal(t, 4, c.LLMCalls())
}

func TestRenderedCommandsIncludesFailure(t *testing.T) {
	r := &ExecResult{Commands: []string{"a = f()"}, FailedCommand: "g(a)"}
	assert.Equal(t, []string{"a = f()", "g(a)"}, r.RenderedCommands())
	r.FailedCommand = ""
	assert.Equal(t, []string{"a = f()"}, r.RenderedCommands())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusWarning.Valid())
	assert.False(t, Status("fatal").Valid())
}

func TestExecResultFeedbackAndCompletion(t *testing.T) {
	pc := &PromptCycle{Answers: []string{"no commands here"}}
	assert.False(t, pc.Complete())

	pc.Exec = &ExecResult{Status: StatusWarning, Text: "Detected 2 `dog`", Varnames: []string{"annotated_image0"}}
	assert.True(t, pc.Complete())
	assert.Equal(t, Feedback{Status: StatusWarning, Text: "Detected 2 `dog`", Varnames: []string{"annotated_image0"}}, pc.Exec.Feedback())
}
