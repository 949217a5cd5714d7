package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/chatrelay/pkg/console"
	"github.com/spf13/cobra"
)

var (
	chatModel    string
	chatNoStream bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the upstream model in the terminal",
	Long: `Start an interactive chat session in the terminal. Replies stream as
they arrive unless --no-stream is set. Type /help inside the chat for commands.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model id for the session (default from config)")
	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "wait for the full reply instead of streaming")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Log lines would interleave with the conversation; keep them in the log file.
	cfg.Logging.Console = false

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	// An explicit model gets a fresh session; otherwise resume the default one.
	var sessionID string
	if chatModel == "" {
		if sessionID, err = a.createDefaultSession(cmd.Context()); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	c, err := console.New(console.Config{
		Relay:     a.relay,
		In:        cmd.InOrStdin(),
		Out:       out,
		SessionID: sessionID,
		Model:     chatModel,
		NoStream:  chatNoStream,
		Styled:    console.IsTerminal(out),
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.Run(ctx)
}
