package cli

import (
	"fmt"

	"github.com/harun/chatrelay/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up chatrelay.
The wizard will guide you through the upstream API, default model, gateway port and log level.`,
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	// Start from the current file so unanswered prompts keep existing values.
	base, err := loader.Load()
	if err != nil {
		base = nil
	}

	out := cmd.OutOrStdout()
	wizard := config.NewWizardWithIO(cmd.InOrStdin(), out)

	cfg, err := wizard.Run(base)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "\nYou can now start the gateway with: chatrelay serve")

	return nil
}
