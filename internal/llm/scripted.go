package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Response is one scripted model turn.
type Response struct {
	Answer string
	Err    error
}

// ScriptedClient replays canned answers in order. It records every
// history it was sent.
type ScriptedClient struct {
	mu        sync.Mutex
	index     int
	responses []Response
	calls     [][]string
}

var _ Client = (*ScriptedClient)(nil)

// NewScriptedClient creates a client that returns responses in order.
func NewScriptedClient(responses ...Response) *ScriptedClient {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedClient{responses: cloned}
}

// NewScriptedAnswers is NewScriptedClient for plain answers.
func NewScriptedAnswers(answers ...string) *ScriptedClient {
	rs := make([]Response, len(answers))
	for i, a := range answers {
		rs[i] = Response{Answer: a}
	}
	return NewScriptedClient(rs...)
}

type scriptFile struct {
	Answers []string `yaml:"answers"`
}

// LoadScript reads a YAML file with an `answers` list.
func LoadScript(path string) (*ScriptedClient, error) {
	if path == "" {
		return nil, errors.New("scripted provider needs llm.script")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var sf scriptFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", path, err)
	}
	return NewScriptedAnswers(sf.Answers...), nil
}

// Generate returns the next scripted answer.
func (c *ScriptedClient) Generate(_ context.Context, messages []string) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, append([]string(nil), messages...))
	if c.index >= len(c.responses) {
		return "", fmt.Errorf("script exhausted at step %d", c.index+1)
	}
	current := c.responses[c.index]
	c.index++
	if current.Err != nil {
		return "", current.Err
	}
	return current.Answer, nil
}

// Calls returns the histories sent so far.
func (c *ScriptedClient) Calls() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// Remaining returns how many answers have not been used.
func (c *ScriptedClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses) - c.index
}
