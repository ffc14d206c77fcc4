package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured models and their providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tPROVIDER\tTIMEOUT\tMAX INPUT TOKENS\tIMAGES")
		for _, m := range cfg.Models {
			timeout := "default"
			if m.Timeout > 0 {
				timeout = m.Timeout.String()
			}
			limit := "-"
			if m.MaxInputTokens > 0 {
				limit = fmt.Sprint(m.MaxInputTokens)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", m.Name, m.Provider, timeout, limit, m.SupportsImages)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
