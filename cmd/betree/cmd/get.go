package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a value for a key",
	Long: `Get a value for a key from the index.

Example:
  betree get mykey`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := []byte(args[0])

		tree, ok := treeFromContext(cmd)
		if !ok {
			fmt.Printf("Error: tree not found in context\n")
			return
		}

		value, found, err := tree.PointQuery(key)
		if err != nil {
			fmt.Printf("Error getting value: %v\n", err)
			return
		}
		if !found {
			fmt.Printf("Error: key not found\n")
			return
		}

		fmt.Printf("%s\n", string(value))
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
