package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <block-id> <plaintext>",
	Short: "Encrypt and write a block",
	Long: `Encrypt plaintext under a freshly updated key and store it at block-id.

Example:
  bkeytreectl write 42 "hello world"`,
	Args: cobra.ExactArgs(2),
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

		if err := v.Write(blockID, []byte(args[1])); err != nil {
			fmt.Printf("Error writing block: %v\n", err)
			return
		}

		fmt.Printf("Successfully wrote block %d\n", blockID)
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)
}
