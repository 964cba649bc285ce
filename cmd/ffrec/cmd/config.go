package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/ffrec/pkg/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
	Long:  `Commands for inspecting the effective configuration and generating system files.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
FFREC_* environment variables. Output is yaml unless --output json is given.`,
	RunE: runConfigShow,
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate",
	Short: "Print a logrotate configuration for the ffrec file logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print(logging.GenerateLogrotateConfig("ffrec"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configLogrotateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if IsJSONOutput() {
		return printJSON(cfg)
	}

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(cfg)
}
