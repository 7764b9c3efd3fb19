package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetLogging(t *testing.T) {
	t.Helper()
	optionsMu.Lock()
	options = Options{}
	optionsMu.Unlock()
	Use(nil)
	t.Cleanup(func() {
		optionsMu.Lock()
		options = Options{}
		optionsMu.Unlock()
		Use(nil)
	})
}

func TestGetWithoutBackendIsNoop(t *testing.T) {
	resetLogging(t)

	l := Get(CategoryExec)
	assert.Nil(t, l.sugar)
	// Must not panic.
	l.Info("hello %s", "world")
	ExecWarn("warn %d", 1)
	assert.NotNil(t, Backend())
}

func TestCategoriesAreNamedLoggers(t *testing.T) {
	resetLogging(t)
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))

	categories := []Category{
		CategoryBoot, CategorySession, CategoryAPI, CategoryParser, CategoryExec,
		CategoryProvider, CategoryPrompt, CategoryStore, CategoryIngest, CategoryCLI,
	}
	for _, cat := range categories {
		Get(cat).Info("message for %s", cat)
	}

	entries := logs.All()
	require.Len(t, entries, len(categories))
	for i, cat := range categories {
		assert.Equal(t, string(cat), entries[i].LoggerName)
		assert.Equal(t, "message for "+string(cat), entries[i].Message)
	}
}

func TestConvenienceLevels(t *testing.T) {
	resetLogging(t)
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))

	SessionDebug("d")
	Session("i")
	SessionWarn("w")
	SessionError("e")

	levels := []zapcore.Level{}
	for _, e := range logs.All() {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}, levels)
}

func TestCategoryWarnings(t *testing.T) {
	resetLogging(t)
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))

	BootDebug("config")
	BootWarn("no config")
	ParserWarn("aborted")
	StoreWarn("close failed")

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, string(CategoryBoot), entries[0].LoggerName)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, string(CategoryParser), entries[2].LoggerName)
	assert.Equal(t, string(CategoryStore), entries[3].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
}

func TestDisabledCategory(t *testing.T) {
	resetLogging(t)
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))
	optionsMu.Lock()
	options = Options{Categories: map[string]bool{"store": false}}
	optionsMu.Unlock()

	assert.False(t, IsCategoryEnabled(CategoryStore))
	assert.True(t, IsCategoryEnabled(CategoryExec))

	Store("hidden")
	Exec("shown")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown", logs.All()[0].Message)
}

func TestWithConversationAddsField(t *testing.T) {
	resetLogging(t)
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))

	WithConversation(CategorySession, "conv-1").Info("turn")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "conv-1", logs.All()[0].ContextMap()["conversation"])
}

func TestInitializeWritesFile(t *testing.T) {
	resetLogging(t)
	path := filepath.Join(t.TempDir(), "logs", "chat2edit.log")

	require.NoError(t, Initialize(Options{Level: "debug", Format: "json", File: path}))
	Exec("statement ran")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "statement ran")
	assert.Contains(t, string(data), `"logger":"exec"`)
}

func TestInitializeRejectsBadLevel(t *testing.T) {
	resetLogging(t)
	err := Initialize(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestTimer(t *testing.T) {
	resetLogging(t)
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))

	timer := StartTimer(CategoryAPI, "generate")
	elapsed := timer.StopWithThreshold(time.Hour)
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
}

func TestAuditWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAudit(path))

	a := AuditWithConversation("conv-9")
	a.TurnStart("cycle-1", "make it gray")
	a.LLMCall("cycle-1", 1, "thinking: ...", 5*time.Millisecond, nil)
	a.LLMCall("cycle-1", 2, "", time.Millisecond, errors.New("quota"))
	a.CommandError("cycle-1", 2, "x = f()", "boom")
	a.TurnEnd("cycle-1", false, 2, time.Second)
	CloseAudit()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		events = append(events, m)
	}
	require.Len(t, events, 5)
	assert.Equal(t, "turn_start", events[0]["event"])
	assert.Equal(t, "conv-9", events[0]["conversation"])
	assert.Equal(t, "llm_response", events[1]["event"])
	assert.Equal(t, "llm_error", events[2]["event"])
	assert.Equal(t, "quota", events[2]["error"])
	assert.Equal(t, "x = f()", events[3]["command"])
	assert.Equal(t, false, events[4]["success"])
}

func TestAuditNoopWhenClosed(t *testing.T) {
	CloseAudit()
	// Must not panic.
	Audit().HostFatal("c", errors.New("x"))
}
