package main

import (
	"time"

	dov_fixtures "github.com/Michael-F-Bryan/dov-fixtures"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	devMode = false
	cfg     dov_fixtures.Config
)

// rootCommand gets the root command that is used when no sub-commands are
// called.
func rootCommand() *cobra.Command {
	v := dov_fixtures.NewViper()

	rootCmd := &cobra.Command{
		Use:     "dov-fixtures",
		Short:   "Refresh the test fixtures recorded from the DOV web services",
		Version: dov_fixtures.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var zapCfg zap.Config

			if devMode {
				zapCfg = zap.NewDevelopmentConfig()
				zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			} else {
				zapCfg = zap.NewProductionConfig()
			}

			logger, err := zapCfg.Build()
			if err != nil {
				return err
			}

			zap.ReplaceGlobals(logger)

			cfg, err = dov_fixtures.LoadConfig(v)
			if err != nil {
				return err
			}

			logger.Debug("Loaded config", zap.Any("config", cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&devMode, "dev", "v", false, "Enable dev mode")
	flags.String("base-url", dov_fixtures.DefaultBaseURL, "The root of the DOV web services")
	flags.StringP("output-dir", "o", "tests/data", "The fixture root to save files under")
	flags.String("datasets", "", "A YAML dataset table to use instead of the built-in one")
	flags.Duration("timeout", time.Minute, "Timeout for each request")
	flags.Float64("rate", 5, "Maximum requests per second (0 for unlimited)")
	flags.String("user-agent", "", "The User-Agent header to send")
	flags.String("db", "", "The sqlite database run history is saved to")
	flags.Bool("no-history", false, "Don't save this run to the history database")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(updateCommand())
	rootCmd.AddCommand(planCommand())
	rootCmd.AddCommand(historyCommand())
	rootCmd.AddCommand(serverCommand())

	return rootCmd
}
