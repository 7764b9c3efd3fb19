package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat2edit/internal/provider"
	"chat2edit/internal/session"
	"chat2edit/internal/store"
)

// =============================================================================
// CHAT COMMAND
// =============================================================================

var (
	chatConversation string
	chatFiles        []string
	chatOutDir       string
	chatRaw          bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [request]",
	Short: "Send one request and print the response",
	Long: `Sends a request, with optional attachments, to a conversation and prints
the response. Files attached to the response are written to --out.

Example:
  chat2edit chat -f photo.jpg "make the sky brighter"
  chat2edit chat -c <conversation-id> "now remove the car"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	attachments, err := readAttachments(chatFiles)
	if err != nil {
		return err
	}

	req := session.TurnRequest{
		ConversationID: chatConversation,
		Text:           strings.Join(args, " "),
		Attachments:    attachments,
	}
	logger.Info("Handling request",
		zap.String("conversation", req.ConversationID),
		zap.Int("attachments", len(attachments)))

	res, err := a.service.HandleTurn(ctx, req)
	if err != nil {
		return err
	}
	return printTurn(cmd.OutOrStdout(), res, chatOutDir, chatRaw)
}

// readAttachments loads files from disk. Each upload gets a fresh id from
// the store.
func readAttachments(paths []string) ([]session.Attachment, error) {
	out := make([]session.Attachment, 0, len(paths))
	for _, path := range paths {
		f, err := readFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, session.Attachment{File: f})
	}
	return out, nil
}

func readFile(path string) (provider.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return provider.File{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return provider.File{
		Name:        filepath.Base(path),
		ContentType: contentType(path, data),
		Data:        data,
	}, nil
}

func contentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// printTurn writes the response and saves its files under outDir.
func printTurn(w io.Writer, res *session.TurnResult, outDir string, raw bool) error {
	fmt.Fprintf(w, "Conversation: %s\n", res.ConversationID)
	if res.Response == nil {
		fmt.Fprintf(w, "No response after %d model calls.\n", res.Cycle.LLMCalls())
		return nil
	}

	text := res.Response.Text
	if !raw {
		text = renderMarkdown(text)
	}
	fmt.Fprintln(w, strings.TrimRight(text, "\n"))

	for _, f := range res.Files {
		path, err := writeFile(outDir, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  saved %s\n", path)
	}
	return nil
}

func writeFile(dir string, f *store.File) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(f.Name))
	if err := os.WriteFile(path, f.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// renderMarkdown falls back to the plain text if glamour fails.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}

// handleOne is shared by the interactive UI.
func handleOne(ctx context.Context, a *app, conversationID, text string, files []string) (*session.TurnResult, error) {
	attachments, err := readAttachments(files)
	if err != nil {
		return nil, err
	}
	return a.service.HandleTurn(ctx, session.TurnRequest{
		ConversationID: conversationID,
		Text:           text,
		Attachments:    attachments,
	})
}
