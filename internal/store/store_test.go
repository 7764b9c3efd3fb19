package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"chat2edit/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// forEachDriver runs fn against a fresh file database per driver. The cgo
// driver is skipped in builds without cgo.
func forEachDriver(t *testing.T, fn func(t *testing.T, s *Store)) {
	for _, driver := range Drivers {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "chat2edit.db")
			s, err := Open(context.Background(), driver, path)
			if err != nil && strings.Contains(err.Error(), "CGO_ENABLED=0") {
				t.Skipf("%s needs cgo", driver)
			}
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, s.Close()) })
			fn(t, s)
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", ":memory:")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "sqlite", s.Driver())
	assert.Equal(t, ":memory:", s.Path())
}

func TestConversationLifecycle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		c, err := s.CreateConversation(ctx, "canvas")
		require.NoError(t, err)
		assert.NotEmpty(t, c.ID)
		assert.Empty(t, c.Title)

		c.Title = "Increased the brightness."
		require.NoError(t, s.SaveConversation(ctx, c))

		got, err := s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Increased the brightness.", got.Title)
		assert.Equal(t, "canvas", got.Provider)
		assert.Equal(t, c.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

		_, err = s.GetConversation(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.SaveConversation(ctx, &Conversation{ID: "missing"}), ErrNotFound)

		require.NoError(t, s.DeleteConversation(ctx, c.ID))
		_, err = s.GetConversation(ctx, c.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteConversation(ctx, c.ID), ErrNotFound)
	})
}

func TestListConversationsNewestFirst(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		first, err := s.CreateConversation(ctx, "canvas")
		require.NoError(t, err)
		time.Sleep(3 * time.Millisecond)
		second, err := s.CreateConversation(ctx, "canvas")
		require.NoError(t, err)

		list, err := s.ListConversations(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)

		time.Sleep(3 * time.Millisecond)
		first.Title = "touched"
		require.NoError(t, s.SaveConversation(ctx, first))

		list, err = s.ListConversations(ctx, 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, first.ID, list[0].ID)
	})
}

func cycle(id string, responded bool) *types.ChatCycle {
	c := &types.ChatCycle{
		ID:      id,
		Request: types.Message{Text: "request " + id, Varnames: []string{"image0"}},
		PromptCycles: []*types.PromptCycle{{
			Answers:  []string{"thinking: t\ncommands:\nx = f()"},
			Thinking: "t",
			Commands: []string{"x = f()"},
			Exec: &types.ExecResult{
				Status:    types.StatusInfo,
				Text:      "Commands executed successfully.",
				Commands:  []string{"x = f()"},
				Durations: []time.Duration{time.Millisecond},
			},
			LLMDurations: []time.Duration{2 * time.Second},
		}},
	}
	if responded {
		c.Response = &types.Message{Text: "done " + id, Varnames: []string{"image0"}}
	}
	return c
}

func TestCyclesWindow(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		conv, err := s.CreateConversation(ctx, "canvas")
		require.NoError(t, err)

		want := []*types.ChatCycle{
			cycle("c1", true),
			cycle("c2", false),
			cycle("c3", true),
			cycle("c4", true),
		}
		for _, c := range want {
			require.NoError(t, s.AppendCycle(ctx, conv.ID, c))
		}

		all, err := s.Cycles(ctx, conv.ID, 0, false)
		require.NoError(t, err)
		if diff := cmp.Diff(want, all); diff != "" {
			t.Errorf("Cycles mismatch (-want +got):\n%s", diff)
		}

		window, err := s.Cycles(ctx, conv.ID, 2, true)
		require.NoError(t, err)
		require.Len(t, window, 2)
		assert.Equal(t, "c3", window[0].ID)
		assert.Equal(t, "c4", window[1].ID)

		window, err = s.Cycles(ctx, conv.ID, 3, true)
		require.NoError(t, err)
		require.Len(t, window, 3)
		assert.Equal(t, "c1", window[0].ID)

		none, err := s.Cycles(ctx, "other", 0, false)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestAppendCycleAssignsID(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		conv, err := s.CreateConversation(ctx, "canvas")
		require.NoError(t, err)

		c := cycle("", true)
		require.NoError(t, s.AppendCycle(ctx, conv.ID, c))
		assert.NotEmpty(t, c.ID)

		assert.Error(t, s.AppendCycle(ctx, conv.ID, c), "duplicate cycle id")
	})
}

func TestContextRoundTrip(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		conv, err := s.CreateConversation(ctx, "canvas")
		require.NoError(t, err)

		data, err := s.LoadContext(ctx, conv.ID)
		require.NoError(t, err)
		assert.Nil(t, data)

		require.NoError(t, s.SaveContext(ctx, conv.ID, []byte(`{"vars":{"a":1}}`)))
		require.NoError(t, s.SaveContext(ctx, conv.ID, []byte(`{"vars":{"a":2}}`)))

		data, err = s.LoadContext(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, `{"vars":{"a":2}}`, string(data))
	})
}

func TestFiles(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s *Store) {
		ctx := context.Background()

		f := &File{ConversationID: "c", Name: "photo.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
		require.NoError(t, s.SaveFile(ctx, f))
		require.NotEmpty(t, f.ID)

		got, err := s.GetFile(ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, f.Name, got.Name)
		assert.Equal(t, f.ContentType, got.ContentType)
		assert.Equal(t, f.Data, got.Data)
		assert.Equal(t, "c", got.ConversationID)

		_, err = s.GetFile(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMigrationsAddMissingColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO conversations (id, title, created_at, updated_at) VALUES ('old', 'kept', 1, 1)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer s.Close()

	ok, err := columnExists(ctx, s.db, "conversations", "provider")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetConversation(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Title)
	assert.Empty(t, got.Provider)

	// A second run is a no-op.
	require.NoError(t, RunMigrations(ctx, s.db))
}
