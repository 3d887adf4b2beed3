package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/taxbot/internal/cli"
	"github.com/cloo-solutions/taxbot/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "taxbot",
		Short: "Taxbot CLI - talk to the support chatbot",
		Long: `Taxbot CLI sends questions to the support chatbot and manages its corpus.

Environment variables:
  TAXBOT_API_URL       API base URL (default: http://localhost:8080)
  TAXBOT_ADMIN_TOKEN   Admin token for debug and reindex`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	rootCmd.PersistentFlags().String("admin-token", "", "Admin token (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.DebugCmd())
	rootCmd.AddCommand(client.ReindexCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
