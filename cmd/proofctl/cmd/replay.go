package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prooflane/prooflane/pkg/replayguard"
)

var replayStatePath string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Inspect replay-guard state",
}

var replayInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a replay state file",
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := replayguard.Inspect(replayStatePath)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version:       %s\n", summary.Version)
		fmt.Fprintf(cmd.OutOrStdout(), "seen hashes:   %d\n", summary.HashCount)
		fmt.Fprintf(cmd.OutOrStdout(), "nonces:        %d\n", summary.NonceCount)
		fmt.Fprintf(cmd.OutOrStdout(), "last sequence: %d\n", summary.LastSequence)
		fmt.Fprintf(cmd.OutOrStdout(), "updated at:    %s\n", summary.UpdatedAt)
		return nil
	},
}

func init() {
	replayCmd.PersistentFlags().StringVar(&replayStatePath, "state", "", "replay state file")
	_ = replayCmd.MarkPersistentFlagRequired("state")
	replayCmd.AddCommand(replayInspectCmd)
	rootCmd.AddCommand(replayCmd)
}
