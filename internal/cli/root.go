// Package cli holds the arbitra command tree.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"arbitra/config"
)

var rootCmd = &cobra.Command{
	Use:   "arbitra",
	Short: "Arbitration ledger for bonded subjects",
	Long: `Arbitra keeps namespaces, bonded subjects, participant pools and their
disputes in Postgres, and serves them over an HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./arbitra.yaml)")
	rootCmd.PersistentFlags().String("database-url", "", "postgres connection string")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("arbitra")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/arbitra")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	// ARBITRA_DATABASE_URL for database.url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// a missing config file is fine; flags and env cover everything
	_ = viper.ReadInConfig()
}
