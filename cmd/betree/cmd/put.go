package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// putCmd represents the put command
var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Put a key-value pair",
	Long: `Put a key-value pair into the index.

Example:
  betree put mykey myvalue`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key := []byte(args[0])
		value := []byte(args[1])

		tree, ok := treeFromContext(cmd)
		if !ok {
			fmt.Printf("Error: tree not found in context\n")
			return
		}

		if err := tree.Insert(key, value); err != nil {
			fmt.Printf("Error putting key-value: %v\n", err)
			return
		}

		fmt.Printf("Successfully put key '%s' with value '%s'\n", string(key), string(value))
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
}
