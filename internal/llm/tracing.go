package llm

import (
	"context"
	"sync"
	"time"

	"chat2edit/internal/logging"
)

// Trace is one model call.
type Trace struct {
	Messages []string
	Answer   string
	Err      error
	Duration time.Duration
	Time     time.Time
}

// TraceSink receives completed traces.
type TraceSink func(Trace)

// TracingClient wraps a Client, logs every call and hands each one to the
// registered sinks.
type TracingClient struct {
	underlying Client

	mu    sync.RWMutex
	sinks []TraceSink
}

var _ Client = (*TracingClient)(nil)

// NewTracingClient wraps underlying.
func NewTracingClient(underlying Client, sinks ...TraceSink) *TracingClient {
	return &TracingClient{underlying: underlying, sinks: sinks}
}

// AddSink registers another sink.
func (tc *TracingClient) AddSink(s TraceSink) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.sinks = append(tc.sinks, s)
}

// Generate forwards to the wrapped client.
func (tc *TracingClient) Generate(ctx context.Context, messages []string) (string, error) {
	start := time.Now()
	answer, err := tc.underlying.Generate(ctx, messages)
	tr := Trace{
		Messages: messages,
		Answer:   answer,
		Err:      err,
		Duration: time.Since(start),
		Time:     start,
	}
	if err != nil {
		logging.APIWarn("LLM call failed after %v: %v", tr.Duration, err)
	} else {
		logging.APIDebug("LLM call took %v (%d messages, answer %d chars)", tr.Duration, len(messages), len(answer))
	}

	tc.mu.RLock()
	sinks := append([]TraceSink(nil), tc.sinks...)
	tc.mu.RUnlock()
	for _, s := range sinks {
		s(tr)
	}
	return answer, err
}
