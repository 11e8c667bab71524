/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ssargent/bepsilontree/pkg/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start the bepsilontree REST API server with authentication, over the
index opened from --data-dir.

Example:
  betree serve --api-key=mysecretkey --port=8080`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		apiKey, _ := cmd.Flags().GetString("api-key")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		if apiKey == "" {
			fmt.Println("Error: --api-key is required")
			return
		}

		tree, ok := treeFromContext(cmd)
		if !ok {
			fmt.Printf("Error: tree not found in context\n")
			return
		}

		if container == nil {
			fmt.Printf("Error: dependency container not initialized\n")
			return
		}

		store := api.NewTreeStoreWithOverflow(tree.Tree, tree.Overflow, tree.MaxInline)
		serverStarter := container.GetServerFactory().CreateServerStarter()
		if err := serverStarter.StartServer(store, api.ServerConfig{
			Port:    port,
			APIKey:  apiKey,
			DataDir: dataDir,
		}); err != nil {
			fmt.Printf("Error starting server: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("api-key", "", "API key for authentication (required)")
	serveCmd.MarkFlagRequired("api-key")
}
