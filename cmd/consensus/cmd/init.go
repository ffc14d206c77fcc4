package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write .quorum-consensus.yaml in the current directory with every
setting and its default value, plus example providers and models.`,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	configPath := filepath.Join(cwd, ".quorum-consensus.yaml")
	if err := config.WriteDefault(configPath, initForce); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration file:", configPath)
	fmt.Fprintln(out, "Set OPENAI_API_KEY / OPENROUTER_API_KEY, then run:")
	fmt.Fprintf(out, "  %s consult -m gpt-5 -m google/gemini-2.5-pro \"your question\"\n", appName)
	return nil
}
