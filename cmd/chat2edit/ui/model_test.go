package ui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedTurn struct {
	conversationID string
	text           string
	files          []string
}

func newTestModel(t *testing.T, reply *Reply, err error) (Model, *[]recordedTurn) {
	t.Helper()
	var turns []recordedTurn
	m := NewModel(Config{
		Provider: "canvas",
		Turn: func(_ context.Context, conversationID, text string, files []string) (*Reply, error) {
			turns = append(turns, recordedTurn{conversationID, text, files})
			return reply, err
		},
	})
	return m, &turns
}

func typeAndSubmit(t *testing.T, m Model, input string) (Model, tea.Cmd) {
	t.Helper()
	m.textarea.SetValue(input)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

// runTurn executes the turn command directly and feeds its reply back.
func runTurn(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)
	for _, c := range batch {
		if c == nil {
			continue
		}
		if msg, ok := c().(replyMsg); ok {
			next, _ := m.Update(msg)
			return next.(Model)
		}
	}
	t.Fatal("no reply in batch")
	return m
}

func TestSubmitRunsTurnAndShowsReply(t *testing.T) {
	m, turns := newTestModel(t, &Reply{ConversationID: "conv-1", Responded: true, Text: "Done.", Calls: 1}, nil)

	m, cmd := typeAndSubmit(t, m, "brighten it")
	assert.True(t, m.loading)

	m = runTurn(t, m, cmd)
	assert.False(t, m.loading)
	assert.Equal(t, "conv-1", m.ConversationID())
	require.Len(t, *turns, 1)
	assert.Equal(t, "", (*turns)[0].conversationID)
	assert.Equal(t, "brighten it", (*turns)[0].text)

	h := m.History()
	assert.Equal(t, RoleUser, h[len(h)-2].Role)
	assert.Equal(t, RoleAssistant, h[len(h)-1].Role)
	assert.Contains(t, h[len(h)-1].Content, "Done.")

	_, cmd = typeAndSubmit(t, m, "again")
	runTurn(t, m, cmd)
	assert.Equal(t, "conv-1", (*turns)[1].conversationID)
}

func TestNoResponseReply(t *testing.T) {
	m, _ := newTestModel(t, &Reply{ConversationID: "c", Calls: 4}, nil)
	m, cmd := typeAndSubmit(t, m, "do it")
	m = runTurn(t, m, cmd)

	last := m.History()[len(m.History())-1]
	assert.Contains(t, last.Content, "No response after 4 model calls")
}

func TestTurnErrorIsShown(t *testing.T) {
	m, _ := newTestModel(t, nil, errors.New("boom"))
	m, cmd := typeAndSubmit(t, m, "do it")
	m = runTurn(t, m, cmd)

	assert.EqualError(t, m.Err(), "boom")
	last := m.History()[len(m.History())-1]
	assert.Equal(t, RoleSystem, last.Role)
	assert.Contains(t, last.Content, "boom")
}

func TestAttachCommandQueuesFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	m, turns := newTestModel(t, &Reply{ConversationID: "c", Responded: true, Text: "ok"}, nil)
	m, _ = typeAndSubmit(t, m, "/attach "+path+" "+filepath.Join(dir, "missing.png"))
	assert.Equal(t, []string{path}, m.Pending())

	m, cmd := typeAndSubmit(t, m, "use it")
	assert.Empty(t, m.Pending())
	runTurn(t, m, cmd)
	require.Len(t, *turns, 1)
	assert.Equal(t, []string{path}, (*turns)[0].files)
}

func TestSlashCommands(t *testing.T) {
	m, turns := newTestModel(t, nil, nil)
	m.cfg.ConversationID = "conv-9"

	m, _ = typeAndSubmit(t, m, "/id")
	assert.Contains(t, m.History()[len(m.History())-1].Content, "conv-9")

	m, _ = typeAndSubmit(t, m, "/new")
	assert.Empty(t, m.ConversationID())

	m, _ = typeAndSubmit(t, m, "/bogus")
	assert.Contains(t, m.History()[len(m.History())-1].Content, "Unknown command")

	_, cmd := typeAndSubmit(t, m, "/quit")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, *turns)
}

func TestTraceCountsCallsWhileLoading(t *testing.T) {
	m, _ := newTestModel(t, &Reply{Responded: true}, nil)
	next, _ := m.Update(TraceMsg{})
	assert.Zero(t, next.(Model).calls)

	m, _ = typeAndSubmit(t, m, "go")
	next, _ = m.Update(TraceMsg{})
	next, _ = next.Update(TraceMsg{})
	assert.Equal(t, 2, next.(Model).calls)
	assert.Contains(t, next.View(), "model calls: 2")
}

func TestWindowResize(t *testing.T) {
	m, _ := newTestModel(t, nil, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	nm := next.(Model)
	assert.Equal(t, 100, nm.viewport.Width)
	assert.Equal(t, 40-headerHeight-footerHeight-inputHeight, nm.viewport.Height)
	assert.Contains(t, nm.View(), "chat2edit")
}
