package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chat2edit/internal/prompt"
	"chat2edit/internal/store"
	"chat2edit/internal/types"
)

// =============================================================================
// CONVERSATION COMMANDS
// =============================================================================

var (
	listLimit         int
	historyTranscript bool
	exportFilesDir    string
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start an empty conversation and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		conv, err := a.service.NewConversation(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, most recently updated first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		convs, err := st.ListConversations(cmd.Context(), listLimit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(convs) == 0 {
			fmt.Fprintln(w, "No conversations yet. Start one with 'chat2edit chat'.")
			return nil
		}
		fmt.Fprintf(w, "%-36s  %-16s  %-8s  %s\n", "ID", "UPDATED", "PROVIDER", "TITLE")
		fmt.Fprintln(w, strings.Repeat("─", 90))
		for _, c := range convs {
			fmt.Fprintf(w, "%-36s  %-16s  %-8s  %s\n",
				c.ID,
				c.UpdatedAt.Format("2006-01-02 15:04"),
				c.Provider,
				truncate(c.Title, 40))
		}
		return nil
	},
}

var deleteConversationCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation with its cycles and variables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show the chat cycles of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if _, err := st.GetConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		cycles, err := st.Cycles(cmd.Context(), args[0], 0, false)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if historyTranscript {
			fmt.Fprint(w, prompt.RenderCycles(cycles))
			return nil
		}
		for i, c := range cycles {
			fmt.Fprintf(w, "#%d %s (%d model calls)\n", i+1, c.ID, c.LLMCalls())
			fmt.Fprintf(w, "  user: %s%s\n", c.Request.Text, varnameSuffix(c.Request.Varnames))
			for j, pc := range c.PromptCycles {
				printPromptCycle(w, j+1, pc)
			}
			if c.Response != nil {
				fmt.Fprintf(w, "  assistant: %s%s\n", c.Response.Text, varnameSuffix(c.Response.Varnames))
			} else {
				fmt.Fprintln(w, "  assistant: (no response)")
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

func printPromptCycle(w io.Writer, n int, pc *types.PromptCycle) {
	for _, e := range pc.Errors {
		fmt.Fprintf(w, "    [%d] model error: %s\n", n, e)
	}
	if !pc.Complete() {
		if len(pc.Answers) > 0 {
			fmt.Fprintf(w, "    [%d] unreadable answer\n", n)
		}
		return
	}
	for _, c := range pc.Exec.RenderedCommands() {
		fmt.Fprintf(w, "    [%d] %s\n", n, c)
	}
	fmt.Fprintf(w, "    [%d] %s: %s\n", n, pc.Exec.Status, pc.Exec.Text)
}

var varsCmd = &cobra.Command{
	Use:   "vars <conversation-id>",
	Short: "List the variables bound in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.store.GetConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		vars, err := a.service.LoadContext(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if vars.Len() == 0 {
			fmt.Fprintln(w, "No variables.")
			return nil
		}
		for _, name := range vars.Names() {
			v, _ := vars.Get(name)
			fmt.Fprintf(w, "%-16s %-12s %s\n", name, v.TypeName(), truncate(v.String(), 60))
		}
		return nil
	},
}

// exportDoc is the JSON written by export.
type exportDoc struct {
	Conversation *store.Conversation `json:"conversation"`
	Cycles       []*types.ChatCycle  `json:"cycles"`
}

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Write a conversation as JSON, optionally with its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		conv, err := st.GetConversation(ctx, args[0])
		if err != nil {
			return err
		}
		cycles, err := st.Cycles(ctx, conv.ID, 0, false)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(exportDoc{Conversation: conv, Cycles: cycles}); err != nil {
			return err
		}

		if exportFilesDir == "" {
			return nil
		}
		for _, id := range fileIDs(cycles) {
			f, err := st.GetFile(ctx, id)
			if err != nil {
				return err
			}
			dir := filepath.Join(exportFilesDir, f.ID)
			if _, err := writeFile(dir, f); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Files written to %s\n", exportFilesDir)
		return nil
	},
}

// fileIDs lists every request and response file id once, in order.
func fileIDs(cycles []*types.ChatCycle) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(m *types.Message) {
		if m == nil {
			return
		}
		for _, id := range m.FileIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for _, c := range cycles {
		add(&c.Request)
		add(c.Response)
	}
	return ids
}

func varnameSuffix(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return " [" + strings.Join(names, ", ") + "]"
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
