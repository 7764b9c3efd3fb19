// Package types holds the conversation records shared by the prompt
// formatter, the evaluator and the orchestrator.
package types

import (
	"errors"
	"time"
)

// ErrResponseAlreadySet is returned when a chat cycle is given a second response.
var ErrResponseAlreadySet = errors.New("chat cycle already has a response")

// Status is the severity of feedback from executing commands.
type Status string

const (
	StatusInfo    Status = "info"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInfo, StatusWarning, StatusError:
		return true
	}
	return false
}

// Feedback is a status-tagged message from a provider function (or the
// evaluator) to the model, naming the variables it refers to.
type Feedback struct {
	Status   Status   `json:"status"`
	Text     string   `json:"text"`
	Varnames []string `json:"varnames,omitempty"`
}

// Message is a user request or an assistant response.
type Message struct {
	Text      string    `json:"text"`
	Varnames  []string  `json:"varnames,omitempty"`
	FileIDs   []string  `json:"file_ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecResult is what running one command batch produced.
type ExecResult struct {
	Status   Status   `json:"status"`
	Text     string   `json:"text"`
	Varnames []string `json:"varnames,omitempty"`

	// Commands are the statements that ran to completion, in order.
	Commands []string `json:"commands"`
	// FailedCommand is the statement that ended the batch with an error.
	FailedCommand string `json:"failed_command,omitempty"`

	Durations []time.Duration `json:"durations,omitempty"`
	Traceback string          `json:"traceback,omitempty"`

	Response *Message `json:"response,omitempty"`
}

// Feedback returns the observation carried by the result.
func (r *ExecResult) Feedback() Feedback {
	return Feedback{Status: r.Status, Text: r.Text, Varnames: r.Varnames}
}

// RenderedCommands is the command list shown back to the model: every
// statement that completed plus the one that failed.
func (r *ExecResult) RenderedCommands() []string {
	out := append([]string(nil), r.Commands...)
	if r.FailedCommand != "" {
		out = append(out, r.FailedCommand)
	}
	return out
}

// PromptCycle is one LLM call within a chat cycle and what became of it.
type PromptCycle struct {
	Answers      []string        `json:"answers"`
	Thinking     string          `json:"thinking,omitempty"`
	Commands     []string        `json:"commands,omitempty"`
	Exec         *ExecResult     `json:"exec,omitempty"`
	LLMDurations []time.Duration `json:"llm_durations,omitempty"`
	Errors       []string        `json:"errors,omitempty"`
}

// Complete reports whether the cycle produced commands and executed them.
func (p *PromptCycle) Complete() bool {
	return p.Exec != nil
}

// ChatCycle is one user request and everything done to satisfy it.
type ChatCycle struct {
	ID           string         `json:"id"`
	Request      Message        `json:"request"`
	PromptCycles []*PromptCycle `json:"prompt_cycles"`
	Response     *Message       `json:"response,omitempty"`
}

// SetResponse records the cycle's response; a cycle has at most one.
func (c *ChatCycle) SetResponse(m Message) error {
	if c.Response != nil {
		return ErrResponseAlreadySet
	}
	c.Response = &m
	return nil
}

// LLMCalls counts the model calls made for this cycle. A failed call
// records a duration but no answer.
func (c *ChatCycle) LLMCalls() int {
	n := 0
	for _, p := range c.PromptCycles {
		n += max(len(p.Answers), len(p.LLMDurations))
	}
	return n
}

// Responded reports whether the cycle ended with a response.
func (c *ChatCycle) Responded() bool { return c.Response != nil }
