package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ckd-screening-service/internal/app"
	"github.com/ckd-screening-service/internal/config"
	"github.com/ckd-screening-service/internal/domain"
	"github.com/ckd-screening-service/internal/export"
	"github.com/ckd-screening-service/internal/logging"
)

// Output formats accepted by the run command.
const (
	formatJSON = "json"
	formatText = "text"
	formatXLSX = "xlsx"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Screen every patient and print the prioritized worklist",
		Long: "Reads patients and observations from --input (a JSON document) or, without it,\n" +
			"from the configured screening source, then classifies, ranks and prints the worklist.",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			todayRaw, _ := cmd.Flags().GetString("today")
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			save, _ := cmd.Flags().GetBool("save")

			switch format {
			case formatJSON, formatText:
			case formatXLSX:
				if output == "" {
					return fmt.Errorf("--output is required for xlsx")
				}
			default:
				return fmt.Errorf("unknown format %q (expected json, text or xlsx)", format)
			}

			today, err := domain.ParseDate(todayRaw)
			if err != nil {
				return fmt.Errorf("invalid --today %q: expected YYYY-MM-DD", todayRaw)
			}

			configManager, err := config.NewManager()
			if err != nil {
				return err
			}
			cfg := configManager.GetConfig()
			if input != "" {
				cfg.Screening.Source = config.SourceFile
				cfg.Screening.PatientsFile = input
			}
			if !save {
				cfg.Screening.ResultsStore = config.StoreNone
			}
			cfg.Cache.Enabled = cfg.Cache.Enabled && save
			if err := configManager.Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			logger, err := cliLogger(cfg.Logging)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			components, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer components.Close()

			run, err := components.Runner.Run(ctx, today)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			return writeRun(w, format, run)
		},
	}

	cmd.Flags().String("input", "", "JSON document with patients and observations")
	cmd.Flags().String("today", "", "Evaluation date (YYYY-MM-DD)")
	cmd.Flags().String("format", formatJSON, "Output format: json, text or xlsx")
	cmd.Flags().String("output", "", "Write output to this file instead of stdout")
	cmd.Flags().Bool("save", false, "Store the run and publish the worklist as configured")
	_ = cmd.MarkFlagRequired("today")

	return cmd
}

func writeRun(w io.Writer, format string, run *domain.ScreeningRun) error {
	switch format {
	case formatText:
		return export.WriteWorklistText(w, run.Batch, run.Worklist)
	case formatXLSX:
		return export.WriteWorklistXLSX(w, run.Worklist)
	default:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(run)
	}
}

// cliLogger keeps stdout free for command output.
func cliLogger(cfg domain.LoggingConfig) (*logrus.Logger, error) {
	if cfg.Output == "" || cfg.Output == "stdout" {
		cfg.Output = "stderr"
	}
	return logging.New(cfg)
}
