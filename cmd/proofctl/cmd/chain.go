package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prooflane/prooflane/pkg/proof"
)

var (
	chainFile string
	sealInput string
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Work with JSONL proof ledgers",
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate a ledger file end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := proof.VerifyFile(chainFile)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
		} else {
			if result.Passed {
				fmt.Fprintf(cmd.OutOrStdout(), "OK: %v proofs, final chain hash %v\n",
					result.Metadata["proof_count"], result.Metadata["final_chain_hash"])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "BROKEN (%s):\n", proof.ClassifyBreak(result))
				for _, e := range result.Errors {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e)
				}
			}
			for _, warn := range result.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s\n", warn)
			}
		}
		if !result.Passed {
			os.Exit(1)
		}
		return nil
	},
}

var chainSealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal a proof record onto the end of a ledger file",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(sealInput)
		if err != nil {
			return fmt.Errorf("read proof: %w", err)
		}
		rec, err := proof.ParseRecord(raw)
		if err != nil {
			return err
		}
		if result := proof.ValidateRecord(rec); !result.Passed {
			return fmt.Errorf("proof rejected: %v", result.Errors)
		}
		if err := proof.AppendRecord(chainFile, rec); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sealed %s chain_hash=%s\n", rec.ProofID, rec.ChainHash)
		return nil
	},
}

func init() {
	chainCmd.PersistentFlags().StringVar(&chainFile, "file", "", "ledger file (JSONL)")
	_ = chainCmd.MarkPersistentFlagRequired("file")
	chainSealCmd.Flags().StringVar(&sealInput, "in", "", "proof record JSON file")
	_ = chainSealCmd.MarkFlagRequired("in")

	chainCmd.AddCommand(chainVerifyCmd, chainSealCmd)
	rootCmd.AddCommand(chainCmd)
}
