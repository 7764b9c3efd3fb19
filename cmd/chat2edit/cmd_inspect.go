package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chat2edit/internal/prompt"
	"chat2edit/internal/types"
)

// =============================================================================
// INSPECTION COMMANDS
// =============================================================================
// functions and prompt show what the model is given without calling it.

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List the functions the provider exposes to the model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProvider()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Provider %s: %d functions\n", p.Name(), p.Functions().Count())
		fmt.Fprintln(w, strings.Repeat("─", 50))
		for _, fn := range p.Functions().Functions() {
			fmt.Fprintln(w, fn.Signature())
			if fn.Doc != "" {
				fmt.Fprintf(w, "    %s\n", fn.Doc)
			}
		}
		return nil
	},
}

var promptCmd = &cobra.Command{
	Use:   "prompt [conversation-id] <request>",
	Short: "Print the prompt the model would receive for a request",
	Long: `Prints the first prompt of a turn: functions, exemplars, the replayed
history of the conversation and the new request. Nothing is executed.

With a single argument the request is previewed against an empty history.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		var history []*types.ChatCycle
		text := args[0]
		if len(args) == 2 {
			if _, err := a.store.GetConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			history, err = a.service.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			text = args[1]
		}

		p := a.fulfiller.Prompt(history, types.Message{Text: text, Timestamp: time.Now()})
		fmt.Fprintln(cmd.OutOrStdout(), p)

		stats := prompt.AnalyzePrompt(p)
		fmt.Fprintf(cmd.ErrOrStderr(), "\n%d chars, ~%d tokens\n", stats.CharCount, stats.TokenCount)
		return nil
	},
}
