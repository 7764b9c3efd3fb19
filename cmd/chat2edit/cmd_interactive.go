package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"chat2edit/cmd/chat2edit/ui"
	"chat2edit/internal/llm"
)

// runInteractive starts the bubbletea chat.
func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	model := ui.NewModel(ui.Config{
		ConversationID: chatConversation,
		Provider:       a.provider.Name(),
		Turn:           turnFunc(a, chatOutDir),
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	a.client.AddSink(func(tr llm.Trace) {
		p.Send(ui.TraceMsg{Duration: tr.Duration, Err: tr.Err})
	})

	_, err = p.Run()
	return err
}

// turnFunc adapts the service to the UI, writing response files to outDir.
func turnFunc(a *app, outDir string) ui.TurnFunc {
	return func(ctx context.Context, conversationID, text string, files []string) (*ui.Reply, error) {
		res, err := handleOne(ctx, a, conversationID, text, files)
		if err != nil {
			return nil, err
		}
		reply := &ui.Reply{
			ConversationID: res.ConversationID,
			Responded:      res.Response != nil,
			Calls:          res.Cycle.LLMCalls(),
		}
		if res.Response == nil {
			return reply, nil
		}
		reply.Text = res.Response.Text
		for _, f := range res.Files {
			path, err := writeFile(outDir, f)
			if err != nil {
				return nil, err
			}
			reply.Saved = append(reply.Saved, path)
		}
		return reply, nil
	}
}
