/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/ssargent/bepsilontree/pkg/api"
	"github.com/ssargent/bepsilontree/pkg/config"
)

// upCmd represents the up command
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Bootstrap and start the bepsilontree server",
	Long: `Bootstrap bepsilontree by creating configuration and keys if they don't
exist, then start the REST API server. This is the recommended way to get
bepsilontree running.

The command will:
- Create configuration file with a secure client API key if missing
- Open the index at the configured data directory
- Start the REST API server

Examples:
  betree up
  betree up --data-dir ./mydata --port 9000
  betree up --config ./custom-config.yaml`,
	// up manages its own tree lifecycle from the loaded config (which may
	// pick a different backend/sizing than the root command's file-backend
	// default), so it skips the root command's tree bootstrap.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		port, _ := cmd.Flags().GetInt("port")
		bind, _ := cmd.Flags().GetString("bind")
		configPath, _ := cmd.Flags().GetString("config")
		printKeys, _ := cmd.Flags().GetBool("print-keys")

		if configPath == "" {
			configPath = config.GetDefaultConfigPath()
		}

		var cfg *config.Config
		var err error

		if config.ConfigExists(configPath) {
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				cmd.Printf("Error loading existing config: %v\n", err)
				os.Exit(1)
			}
			cmd.Printf("Loaded existing configuration from %s\n", configPath)
		} else {
			cmd.Printf("First run detected. Bootstrapping bepsilontree...\n")

			cfg, err = config.BootstrapConfig(configPath, dataDir)
			if err != nil {
				cmd.Printf("Error bootstrapping config: %v\n", err)
				os.Exit(1)
			}

			cmd.Printf("Configuration created at %s\n", configPath)

			if printKeys {
				cmd.Printf("\nGenerated client API key:\n")
				cmd.Printf("Client API Key: %s\n", cfg.Security.ClientAPIKey)
				cmd.Printf("\nStore this key securely! It is also saved in %s\n", configPath)
			}
		}

		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if port != 8080 {
			cfg.Port = port
		}
		if bind != "127.0.0.1" {
			cfg.Bind = bind
		}

		cmd.Printf("Starting bepsilontree server on %s:%d\n", cfg.Bind, cfg.Port)
		cmd.Printf("Data directory: %s\n", cfg.DataDir)

		if container == nil {
			cmd.Printf("Error: dependency container not initialized\n")
			os.Exit(1)
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			cmd.Printf("Error creating data dir: %v\n", err)
			os.Exit(1)
		}

		tree, err := openTree(cfg.DataDir, cfg.Tree, cfg.Security.MaxRecordSize)
		if err != nil {
			cmd.Printf("Error opening index: %v\n", err)
			os.Exit(1)
		}

		store := api.NewTreeStoreWithOverflow(tree.Tree, tree.Overflow, tree.MaxInline)
		serverFactory := container.GetServerFactory()
		serverStarter := serverFactory.CreateServerStarter()

		if err := serverStarter.StartServer(store, api.ServerConfig{
			Port:    cfg.Port,
			APIKey:  cfg.Security.ClientAPIKey,
			DataDir: cfg.DataDir,
		}); err != nil {
			cmd.Printf("Error starting server: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(upCmd)

	upCmd.Flags().StringP("data-dir", "d", "./data", "Data directory for the index")
	upCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	upCmd.Flags().String("bind", "127.0.0.1", "Address to bind server to")
	upCmd.Flags().String("config", "", "Path to config file (default: OS-specific location)")
	upCmd.Flags().Bool("non-interactive", false, "Skip prompts and use defaults")
	upCmd.Flags().Bool("print-keys", false, "Print generated API key to console")
}
