package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"arbitra/config"
	"arbitra/db"
	"arbitra/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("list", false, "print embedded migrations without connecting")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if list, _ := cmd.Flags().GetBool("list"); list {
		migrations, err := db.Migrations()
		if err != nil {
			return err
		}
		for _, m := range migrations {
			fmt.Fprintln(cmd.OutOrStdout(), m.Version)
		}
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.Configure(logging.ProfileRuntime, cfg.Log.Level, cfg.Log.Format)

	conn, err := db.NewPool(cmd.Context(), cfg.Database.URL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err := db.Migrate(cmd.Context(), conn)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		logger.Info().Msg("schema up to date")
		return nil
	}
	logger.Info().Strs("applied", applied).Msg("migrations applied")
	return nil
}
