package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the configured model catalog",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, m := range cfg.Models {
		id := m.ID
		if id == cfg.Relay.DefaultModel {
			id += " (default)"
		}
		name := m.Name
		if name == "" {
			name = m.ID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, name, m.Description)
	}
	return w.Flush()
}
