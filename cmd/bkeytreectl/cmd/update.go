package cmd

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update <block-id>",
	Short: "Mark a block updated for the current epoch",
	Long: `Print block-id's pre-rotation key and flag it as touched so the next
commit rotates it.

Example:
  bkeytreectl update 42`,
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

		key, err := v.Update(blockID)
		if err != nil {
			fmt.Printf("Error updating key: %v\n", err)
			return
		}

		fmt.Println(base64.StdEncoding.EncodeToString(key))
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}
