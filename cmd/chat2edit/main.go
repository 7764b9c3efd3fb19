// Package main implements the chat2edit CLI.
//
// chat2edit turns a chat request plus attached files into commands that a
// model writes and a provider executes:
//   - chat2edit              Interactive chat (bubbletea)
//   - chat2edit chat "..."   One turn, response rendered as markdown
//   - chat2edit new          Start an empty conversation
//   - chat2edit conversations / history / vars / export
//   - chat2edit functions / prompt
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat2edit/internal/config"
	"chat2edit/internal/logging"
	"chat2edit/internal/observability"

	_ "chat2edit/internal/provider/canvas"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	metricsAddr string

	// Set up in PersistentPreRunE
	logger    *zap.Logger
	cfg       *config.Config
	metrics   *observability.Metrics
	stopServe context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "chat2edit",
	Short: "chat2edit - edit files by chatting with a model that writes commands",
	Long: `chat2edit sends your request, the available functions and worked examples
to a language model. The model answers with its thinking and a short list of
commands, which are executed against the files you attached. Feedback from
the commands goes back to the model until it replies to you.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		if err := logging.Initialize(logging.Options{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			DebugMode:  cfg.Logging.DebugMode || verbose,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Backend()
		if _, err := os.Stat(configPath); err != nil {
			logging.BootWarn("No config at %s, using defaults", configPath)
		} else {
			logging.BootDebug("Loaded config from %s", configPath)
		}

		if cfg.Logging.AuditFile != "" {
			if err := logging.InitAudit(cfg.Logging.AuditFile); err != nil {
				return fmt.Errorf("failed to open audit log: %w", err)
			}
		}

		metrics = observability.NewMetrics()
		addr := metricsAddr
		if addr == "" && cfg.Metrics.Enabled {
			addr = cfg.Metrics.Addr
		}
		if addr != "" {
			var ctx context.Context
			ctx, stopServe = context.WithCancel(context.Background())
			go func() {
				if err := metrics.Serve(ctx, addr); err != nil {
					logger.Warn("Metrics server stopped", zap.String("addr", addr), zap.Error(err))
				}
			}()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if stopServe != nil {
			stopServe()
			stopServe = nil
		}
		logging.CloseAudit()
		logging.Sync()
	},
	RunE: runInteractive,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "chat2edit.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")

	rootCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "Conversation to continue in the interactive chat")
	rootCmd.Flags().StringVarP(&chatOutDir, "out", "o", ".", "Directory response files are written to")

	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "Conversation to continue (default: a new one)")
	chatCmd.Flags().StringArrayVarP(&chatFiles, "file", "f", nil, "Attach a file (repeatable)")
	chatCmd.Flags().StringVarP(&chatOutDir, "out", "o", ".", "Directory response files are written to")
	chatCmd.Flags().BoolVar(&chatRaw, "raw", false, "Print the response without markdown rendering")

	conversationsCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of conversations to list")
	historyCmd.Flags().BoolVar(&historyTranscript, "transcript", false, "Print the transcript exactly as the model sees it")
	exportCmd.Flags().StringVarP(&exportFilesDir, "files", "d", "", "Also write the conversation's files to this directory")

	conversationsCmd.AddCommand(deleteConversationCmd)

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(varsCmd)
	rootCmd.AddCommand(functionsCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
