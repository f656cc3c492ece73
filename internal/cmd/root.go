// Package cmd contém a árvore de comandos do secguard.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	verbose bool

	// Informações de versão definidas pelo pacote main
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo é chamado pelo pacote main para definir as informações de versão
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "secguard",
	Short: "Distributed rate limiting, token revocation and anomaly scoring",
	Long: `secguard enforces sliding window rate limits, tracks issued token
identifiers and scores requests for anomalies on top of a shared Redis store.

Run "secguard serve" for the HTTP service or use the admin subcommands to
inspect and repair state directly.`,
	SilenceUsage: true,
}

// Execute adiciona os subcomandos ao comando raiz e configura as flags.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	rootCmd.PersistentFlags().String("env", "", "deployment mode: development|production (env APP_ENV)")
	rootCmd.PersistentFlags().String("redis-host", "", "redis host (env REDIS_HOST)")
	rootCmd.PersistentFlags().Int("redis-port", 0, "redis port (env REDIS_PORT)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug|info|warn|error (env LOGGING_LEVEL)")

	_ = viper.BindPFlag("app.env", rootCmd.PersistentFlags().Lookup("env"))
	_ = viper.BindPFlag("redis.host", rootCmd.PersistentFlags().Lookup("redis-host"))
	_ = viper.BindPFlag("redis.port", rootCmd.PersistentFlags().Lookup("redis-port"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}
