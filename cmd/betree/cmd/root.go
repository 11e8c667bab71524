/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ssargent/bepsilontree/pkg/config"
	"github.com/ssargent/bepsilontree/pkg/di"

	"github.com/spf13/cobra"
)

// container holds the dependency injection graph for commands that start
// the REST API server. It is nil until SetContainer is called from main.
var container *di.Container

// SetContainer injects the dependency container used by the serve and up
// commands. Exported so main can wire it before Execute runs.
func SetContainer(c *di.Container) {
	container = c
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "betree",
	Short: "bepsilontree - an embeddable ordered key-value index",
	Long: `bepsilontree is an embeddable key-value index backed by a B-epsilon
tree, trading some point-query latency for much cheaper writes.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}

		tree, err := openTree(dataDir, config.Tree{Backend: "file"}, config.DefaultConfig().Security.MaxRecordSize)
		if err != nil {
			return fmt.Errorf("failed to open tree: %w", err)
		}

		cmd.SetContext(context.WithValue(cmd.Context(), treeCtxKey{}, tree))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if tree, ok := treeFromContext(cmd); ok {
			return tree.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global data directory flag
	rootCmd.PersistentFlags().StringP("data-dir", "d", "./data", "Data directory for the index")
}
