package admin

import (
	"fmt"

	"github.com/cloo-solutions/taxbot/internal/config"
	"github.com/cloo-solutions/taxbot/internal/database"
	"github.com/spf13/cobra"
)

// MigrateCmd applies the chunk cache migrations.
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			if !cfg.HasDatabase() {
				return fmt.Errorf("TAXBOT_DATABASE_URL is not set")
			}
			return database.RunMigrations(cfg.DatabaseURL, newLogger(cfg))
		},
	}
}
