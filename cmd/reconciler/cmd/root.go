package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reconciliation-workflow/cmd/reconciler/config"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

var (
	cfgFile  string
	verbose  bool
	settings *config.Settings
	version  = "dev"
	commit   = "unknown"
	date     = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Bank-to-ledger match review workflow",
	Long: `Reconciler serves the match review workflow for bank statement lines and
their proposed ledger matches: review, approve, reject, re-analyze and
reconcile, with a complete audit trail.

Settings come from --config, a .env file and RECONCILER_* environment
variables (RECONCILER_SERVER_ADDR overrides server.addr).

Examples:
  reconciler serve --config configs/reconciler.yaml
  reconciler transactions --status "Review Required" --format csv -o review.csv
  reconciler audit --category matching --date-from 2024-01-01`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads .env, the config file and RECONCILER_* variables, then
// installs the global logger
func initConfig(cmd *cobra.Command, _ []string) error {
	envErr := godotenv.Load()

	v := viper.GetViper()
	config.SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("check the path and YAML syntax of the --config file")
		}
	}
	config.BindEnv(v)

	s, err := config.Load(v)
	if err != nil {
		return err
	}
	logConfig, err := s.LoggerConfig(verbose)
	if err != nil {
		return err
	}
	if cmd.Name() != "serve" {
		// reports go to stdout
		logConfig.Output = logger.StderrOutput
		if !verbose {
			logConfig.Level = logger.WarnLevel
		}
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", s.Log, err)
	}
	logger.SetGlobalLogger(log)

	if envErr != nil {
		log.Debug("No .env file found, relying on system env")
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("Using config file")
	}
	settings = s
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
