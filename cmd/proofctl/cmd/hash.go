package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prooflane/prooflane/pkg/canonhash"
	"github.com/prooflane/prooflane/pkg/proof"
)

var (
	hashFile     string
	hashPrevious string
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Compute the canonical content hash of a proof record",
	Long: `Reads a proof record and prints its canonical content hash. With
--previous, also prints the chain hash that would bind it to that
predecessor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(hashFile)
		if err != nil {
			return fmt.Errorf("read proof: %w", err)
		}
		rec, err := proof.ParseRecord(raw)
		if err != nil {
			return err
		}
		contentHash, err := rec.ComputeContentHash()
		if err != nil {
			return err
		}

		out := map[string]string{"content_hash": contentHash}
		if hashPrevious != "" {
			if !canonhash.IsHexHash(hashPrevious) && hashPrevious != canonhash.GenesisHash {
				return fmt.Errorf("invalid previous hash: %q", hashPrevious)
			}
			out["chain_hash"] = canonhash.ChainHash(hashPrevious, contentHash)
		}

		if jsonOutput {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "content_hash: %s\n", out["content_hash"])
		if chain, ok := out["chain_hash"]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "chain_hash:   %s\n", chain)
		}
		return nil
	},
}

func init() {
	hashCmd.Flags().StringVar(&hashFile, "file", "", "proof record JSON file")
	_ = hashCmd.MarkFlagRequired("file")
	hashCmd.Flags().StringVar(&hashPrevious, "previous", "", "previous chain hash (use the genesis hash for a root)")
	rootCmd.AddCommand(hashCmd)
}
