package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/ffrec/internal/config"
	"github.com/psantana5/ffrec/pkg/logging"
)

var (
	cfgFile      string
	outputFormat string

	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ffrec",
	Short: "Record app startup and test runs with ffmpeg",
	Long: `ffrec runs a test plan and records the screen while it does: one video
for the startup of the app under test, then one video per test. All videos
are kept by default. With --keep-only-failed only videos of failed tests are
kept, and the startup video is kept only when some test failed.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	defer func() {
		if logger != nil {
			logger.Close()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ffrec/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	var err error
	cfg, err = config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Log.File {
		logger, err = logging.NewFileLogger("ffrec", "ffrec", cfg.LogLevel(), cfg.JSONLogs())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
			os.Exit(1)
		}
	} else {
		logger = logging.NewLogger(cfg.LogLevel(), cfg.JSONLogs())
		// stdout carries reports and listings
		logger.SetOutput(os.Stderr)
	}

	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("Loaded config", map[string]interface{}{"file": used})
	}
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
