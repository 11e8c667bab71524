package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key-value pair",
	Long: `Delete a key-value pair from the index.

Example:
  betree delete mykey`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := []byte(args[0])

		tree, ok := treeFromContext(cmd)
		if !ok {
			fmt.Printf("Error: tree not found in context\n")
			return
		}

		if err := tree.Delete(key); err != nil {
			fmt.Printf("Error deleting key: %v\n", err)
			return
		}

		fmt.Printf("Successfully deleted key '%s'\n", string(key))
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
