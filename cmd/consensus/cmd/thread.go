package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Inspect continuation threads",
}

var threadShowCmd = &cobra.Command{
	Use:   "show THREAD_ID",
	Short: "Show the turns stored for a continuation id",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadShow,
}

var threadPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired threads from the configured backend",
	Args:  cobra.NoArgs,
	RunE:  runThreadPurge,
}

var threadFormat string

func init() {
	rootCmd.AddCommand(threadCmd)
	threadCmd.AddCommand(threadShowCmd, threadPurgeCmd)

	threadShowCmd.Flags().StringVarP(&threadFormat, "format", "o", FormatAuto,
		"output format (auto, json, yaml, markdown)")
}

func runThreadShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	format, err := resolveFormat(threadFormat, out)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	threads, err := state.NewThreadStore(ctx, storeOptions(cfg.Threads))
	if err != nil {
		return fmt.Errorf("opening thread store: %w", err)
	}
	defer func() {
		if err := threads.Close(); err != nil {
			logger.Warn("closing thread store", "error", err)
		}
	}()

	thread, err := threads.GetThread(ctx, args[0])
	if err != nil {
		return err
	}
	if thread == nil {
		return core.ErrNotFound("thread", args[0])
	}
	return writeThread(out, format, thread, threads.MaxTurns())
}

func runThreadPurge(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	threads, err := state.NewThreadStore(ctx, storeOptions(cfg.Threads))
	if err != nil {
		return fmt.Errorf("opening thread store: %w", err)
	}
	defer func() {
		if err := threads.Close(); err != nil {
			logger.Warn("closing thread store", "error", err)
		}
	}()

	n, err := state.PurgeExpired(ctx, threads)
	if err != nil {
		return fmt.Errorf("purging threads: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired thread(s) from %s backend\n", n, cfg.Threads.Backend)
	return nil
}
