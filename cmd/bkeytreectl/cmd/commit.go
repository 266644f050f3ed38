package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// commitCmd represents the commit command
var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit the current rotation epoch",
	Long: `Rotate keys for every block touched since the last commit, re-encrypting
its ciphertext under a freshly derived key.

Example:
  bkeytreectl commit`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v, err := vaultFromContext(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		report, err := v.Rotate()
		if err != nil {
			fmt.Printf("Error committing: %v\n", err)
			return
		}

		fmt.Printf("Commit %s: rotated %d block(s)\n", report.CommitID, len(report.Rotated))
	},
}

func init() {
	rootCmd.AddCommand(commitCmd)
}
