package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/venkateshpabbati/kidney-disease-classification/internal/config"
	"github.com/venkateshpabbati/kidney-disease-classification/internal/platform/env"
)

func newRootCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "evaluation <command>",
		Short:         "Model evaluation stage",
		Long:          `Scores the trained kidney CT classifier and records the run with the experiment tracker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidConfig(err)
	})

	cmd.AddCommand(newRunCmd(logger))
	cmd.AddCommand(newSmokeCmd(logger))

	return cmd
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var opts runOptions

	trackingDefault, trackingErr := env.Bool("EVAL_TRACKING_ENABLED", true)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the model and log the run",
		Long:  `Computes loss and accuracy from the predictions file, writes scores.json and logs params and metrics to the tracking backend.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if trackingErr != nil {
				return invalidConfig(trackingErr)
			}
			p := newPipeline(logger)
			return p.stage(cmd.Context(), "Evaluation", func() error {
				return p.run(cmd.Context(), opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", config.DefaultConfigPath, "Path to config.yaml")
	cmd.Flags().StringVar(&opts.paramsPath, "params", config.DefaultParamsPath, "Path to params.yaml")
	cmd.Flags().BoolVar(&opts.tracking, "tracking", trackingDefault, "Log params and metrics to the tracking backend (env EVAL_TRACKING_ENABLED)")
	cmd.Flags().StringVar(&opts.backend, "backend", env.String("TRACKING_BACKEND", backendMLflow), fmt.Sprintf("Tracking backend: %s or %s (env TRACKING_BACKEND)", backendMLflow, backendPostgres))
	cmd.Flags().StringVar(&opts.runName, "run-name", env.String("TRACKING_RUN_NAME", ""), "Run name shown by the tracker")

	return cmd
}

func newSmokeCmd(logger *slog.Logger) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Open a run and log a placeholder param and metric",
		Long:  `Checks the tracking backend end to end by logging "parameter name"="value" and "metric name"=1 under one run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPipeline(logger)
			return p.stage(cmd.Context(), "Tracking smoke", func() error {
				return p.smoke(cmd.Context(), backend, "")
			})
		},
	}

	cmd.Flags().StringVar(&backend, "backend", env.String("TRACKING_BACKEND", backendMLflow), fmt.Sprintf("Tracking backend: %s or %s (env TRACKING_BACKEND)", backendMLflow, backendPostgres))

	return cmd
}
