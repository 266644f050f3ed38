/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssargent/bkeytree/pkg/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start the bkeytree REST API server with authentication.

Example:
  bkeytreectl serve --api-key=mysecretkey --port=8080`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		apiKey, _ := cmd.Flags().GetString("api-key")
		systemKey, _ := cmd.Flags().GetString("system-key")

		if apiKey == "" {
			fmt.Println("Error: --api-key is required")
			return
		}

		v, err := vaultFromContext(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}

		serverConfig := api.ServerConfig{
			Port:                port,
			APIKey:              apiKey,
			DataDir:             dataDir,
			SystemKey:           systemKey,
			SystemEncryptionKey: systemKey,
			EnableEncryption:    systemKey != "",
		}

		if container == nil {
			fmt.Println("Error: dependency container not initialized")
			return
		}

		serverFactory := container.GetServerFactory()
		serverStarter := serverFactory.CreateServerStarter()

		if err := serverStarter.StartServer(v, serverConfig); err != nil {
			fmt.Printf("Error starting server: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("api-key", "", "API key for authentication (required)")
	serveCmd.Flags().String("system-key", "", "Encryption key for system-service data (API keys, config)")
	if err := serveCmd.MarkFlagRequired("api-key"); err != nil {
		panic(err)
	}
}
