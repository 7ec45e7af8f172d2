// Package cmd wires the CLI. The root command only handles configuration
// discovery; the actual pipeline lives under the run subcommand.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "refinery",
	Short: "Config-driven tabular validation and projection pipeline",
	Long: `refinery ingests a delimited tabular dataset, validates it against a
declarative schema and custom business rules, removes duplicate records by
composite key, and materializes derived projections (views and tables) for
export.`,
}

// Execute runs the CLI. Configuration errors, format errors, and stop-mode
// validation failures are reported here and terminate the process with a
// non-zero status; they never propagate as panics.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./refinery.yaml)")
}

// initConfig reads the YAML configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("refinery")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
