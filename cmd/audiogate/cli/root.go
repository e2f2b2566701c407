package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	dataDir string
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audiogate",
		Short: "Authenticated gateway for audio transcription and diarization engines",
		Long: `Audiogate fronts the transcription and diarization engines with user
accounts, dual-mode authentication (session cookies and API keys), hourly
upload quotas, a full audit trail, and a WebSocket relay for live
diarization.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./audiogate.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.audiogate)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// initConfig prepares viper as the environment and flag override layer:
// AUDIOGATE_SERVER_PORT maps to server.port, and so on. The YAML file itself
// is read by config.Load, which expands ${VAR} references; letting viper read
// it too would resurface the unexpanded literals.
func initConfig() {
	viper.SetEnvPrefix("AUDIOGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
