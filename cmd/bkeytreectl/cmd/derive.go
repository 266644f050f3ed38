package cmd

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// deriveCmd represents the derive command
var deriveCmd = &cobra.Command{
	Use:   "derive <block-id>",
	Short: "Derive a block's current key",
	Long: `Print the key currently in effect for block-id, generating one if the
block has never been seen before.

Example:
  bkeytreectl derive 42`,
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

		key, err := v.Derive(blockID)
		if err != nil {
			fmt.Printf("Error deriving key: %v\n", err)
			return
		}

		fmt.Println(base64.StdEncoding.EncodeToString(key))
	},
}

func init() {
	rootCmd.AddCommand(deriveCmd)
}
