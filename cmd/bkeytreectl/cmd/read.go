package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <block-id>",
	Short: "Decrypt and read a block",
	Long: `Decrypt and print the plaintext stored at block-id.

Example:
  bkeytreectl read 42`,
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

		plaintext, err := v.Read(blockID)
		if err != nil {
			fmt.Printf("Error reading block: %v\n", err)
			return
		}

		fmt.Printf("%s\n", string(plaintext))
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
}
