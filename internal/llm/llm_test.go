package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"chat2edit/internal/config"
)

func TestValidateMessages(t *testing.T) {
	assert.ErrorIs(t, ValidateMessages(nil), ErrEvenMessages)
	assert.ErrorIs(t, ValidateMessages([]string{"prompt", "answer"}), ErrEvenMessages)
	assert.NoError(t, ValidateMessages([]string{"prompt"}))
	assert.NoError(t, ValidateMessages([]string{"prompt", "answer", "reminder"}))
}

func TestRole(t *testing.T) {
	assert.Equal(t, "user", Role(0))
	assert.Equal(t, "model", Role(1))
	assert.Equal(t, "user", Role(2))
}

func TestScriptedClient(t *testing.T) {
	boom := errors.New("boom")
	c := NewScriptedClient(Response{Answer: "first"}, Response{Err: boom})
	ctx := context.Background()

	got, err := c.Generate(ctx, []string{"p"})
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	_, err = c.Generate(ctx, []string{"p", "first", "again"})
	assert.ErrorIs(t, err, boom)

	_, err = c.Generate(ctx, []string{"p"})
	assert.EqualError(t, err, "script exhausted at step 3")

	_, err = c.Generate(ctx, []string{"p", "a"})
	assert.ErrorIs(t, err, ErrEvenMessages)

	assert.Equal(t, [][]string{{"p"}, {"p", "first", "again"}, {"p"}}, c.Calls())
	assert.Zero(t, c.Remaining())
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte("answers:\n  - |\n    thinking: hi\n    commands:\n    x = f()\n  - second\n"), 0o644))

	c, err := LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Remaining())

	got, err := c.Generate(context.Background(), []string{"p"})
	require.NoError(t, err)
	assert.Equal(t, "thinking: hi\ncommands:\nx = f()\n", got)

	_, err = LoadScript("")
	assert.Error(t, err)
	_, err = LoadScript(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.LLMConfig{Provider: "llama"}, time.Second)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewClient(ctx, config.LLMConfig{Provider: "gemini"}, time.Second)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewClient(ctx, config.LLMConfig{Provider: "openai"}, time.Second)
	assert.ErrorIs(t, err, ErrNoAPIKey)

	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("answers: [a]\n"), 0o644))
	c, err := NewClient(ctx, config.LLMConfig{Provider: "scripted", Script: path}, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &ScriptedClient{}, c)
}

func newTestOpenAI(t *testing.T, url string, retries int) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{
		APIKey:        "sk-test",
		BaseURL:       url + "/",
		Model:         "gpt-test",
		SystemMessage: "be terse",
		MaxRetries:    retries,
		Timeout:       5 * time.Second,
	})
	require.NoError(t, err)
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func TestOpenAIClientGenerate(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  thinking: ok\ncommands:\nx = f()  "}}]}`))
	}))
	defer srv.Close()

	c := newTestOpenAI(t, srv.URL, 0)
	answer, err := c.Generate(context.Background(), []string{"prompt", "bad answer", "reminder"})
	require.NoError(t, err)
	assert.Equal(t, "thinking: ok\ncommands:\nx = f()", answer)

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, []openAIMessage{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "prompt"},
		{Role: "assistant", Content: "bad answer"},
		{Role: "user", Content: "reminder"},
	}, got.Messages)
}

func TestOpenAIClientRetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"done"}}]}`))
	}))
	defer srv.Close()

	c := newTestOpenAI(t, srv.URL, 3)
	answer, err := c.Generate(context.Background(), []string{"prompt"})
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
	assert.EqualValues(t, 3, calls.Load())
}

func TestOpenAIClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		retries int
		calls   int32
		want    string
	}{
		{"bad request is final", http.StatusBadRequest, `{"error":{"message":"bad"}}`, 3, 1, "status 400"},
		{"server errors exhaust retries", http.StatusBadGateway, "down", 2, 3, "max retries exceeded"},
		{"api error body", http.StatusOK, `{"error":{"message":"quota"}}`, 0, 1, "API error: quota"},
		{"no choices", http.StatusOK, `{"choices":[]}`, 0, 1, ErrEmptyAnswer.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestOpenAI(t, srv.URL, tt.retries)
			_, err := c.Generate(context.Background(), []string{"prompt"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestOpenAIClientRejectsEvenHistory(t *testing.T) {
	c := newTestOpenAI(t, "http://127.0.0.1:0", 0)
	_, err := c.Generate(context.Background(), []string{"prompt", "answer"})
	assert.ErrorIs(t, err, ErrEvenMessages)
}

func TestGeminiContents(t *testing.T) {
	contents := geminiContents([]string{"prompt", "answer", "reminder"})
	require.Len(t, contents, 3)
	assert.Equal(t, genai.NewContentFromText("prompt", genai.RoleUser), contents[0])
	assert.Equal(t, genai.NewContentFromText("answer", genai.RoleModel), contents[1])
	assert.Equal(t, genai.NewContentFromText("reminder", genai.RoleUser), contents[2])
}

func TestTracingClient(t *testing.T) {
	inner := NewScriptedAnswers("one")
	var traces []Trace
	tc := NewTracingClient(inner, func(tr Trace) { traces = append(traces, tr) })
	var extra int
	tc.AddSink(func(Trace) { extra++ })

	ctx := context.Background()
	answer, err := tc.Generate(ctx, []string{"p"})
	require.NoError(t, err)
	assert.Equal(t, "one", answer)

	_, err = tc.Generate(ctx, []string{"p"})
	require.Error(t, err)

	require.Len(t, traces, 2)
	assert.Equal(t, "one", traces[0].Answer)
	assert.NoError(t, traces[0].Err)
	assert.Error(t, traces[1].Err)
	assert.Equal(t, 2, extra)
}
