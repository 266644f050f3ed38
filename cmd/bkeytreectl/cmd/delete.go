package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <block-id>",
	Short: "Delete a block's ciphertext and key material",
	Long: `Remove the ciphertext and key material stored for block-id.

Example:
  bkeytreectl delete 42`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		blockID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Printf("Error: invalid block id: %v\n", err)
			return
		}

		v, err := vaultFromContext(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		if err := v.Delete(blockID); err != nil {
			fmt.Printf("Error deleting block: %v\n", err)
			return
		}

		fmt.Printf("Successfully deleted block %d\n", blockID)
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
