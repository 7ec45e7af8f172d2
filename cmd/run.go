package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"refinery/internal/config"
	"refinery/internal/metrics"
	"refinery/internal/metrics/prompush"
	"refinery/internal/pipeline"
	"refinery/internal/rules"
)

var (
	outputDir      string
	engineDSN      string
	metricsBackend string
	pushGatewayURL string
	validateOnly   bool
)

var runCmd = &cobra.Command{
	Use:   "run <entity>",
	Short: "Run the pipeline for one configured entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entity := args[0]

		e, err := config.LoadEntity(viper.GetViper(), entity)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		issues := config.Validate(e)
		for _, iss := range issues {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
		if config.HasErrors(issues) {
			return fmt.Errorf("configuration for entity %q is invalid", entity)
		}
		if validateOnly {
			log.Printf("configuration for entity %q is valid", entity)
			return nil
		}

		if metricsBackend == "pushgateway" {
			backend, err := prompush.NewBackend(entity, pushGatewayURL)
			if err != nil {
				return err
			}
			metrics.SetBackend(backend)
		}
		defer func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics flush failed: %v", err)
			}
		}()

		err = pipeline.Run(context.Background(), pipeline.Options{
			Entity:    entity,
			Config:    e,
			OutputDir: outputDir,
			EngineDSN: engineDSN,
		})

		var verr *rules.ViolationError
		if errors.As(err, &verr) {
			return fmt.Errorf("validation error: %w", verr)
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&outputDir, "output-dir", "output", "directory for error and export artifacts")
	runCmd.Flags().StringVar(&engineDSN, "engine-dsn", "", "query engine DSN (in-memory when empty)")
	runCmd.Flags().StringVar(&metricsBackend, "metrics-backend", "none", "metrics backend (pushgateway, none)")
	runCmd.Flags().StringVar(&pushGatewayURL, "pushgateway-url", "http://localhost:9091", "Pushgateway base URL")
	runCmd.Flags().BoolVar(&validateOnly, "validate", false, "validate the entity configuration and exit")
	rootCmd.AddCommand(runCmd)
}
