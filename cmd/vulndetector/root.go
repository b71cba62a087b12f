package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/abdelilah771/devsecops-pipeline/internal/config"
	"github.com/abdelilah771/devsecops-pipeline/internal/detect"
	"github.com/abdelilah771/devsecops-pipeline/internal/logging"
	"github.com/abdelilah771/devsecops-pipeline/internal/rules"
	"github.com/abdelilah771/devsecops-pipeline/internal/scorer"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "vulndetector",
		Short:        "CI/CD log vulnerability detector",
		Long:         "Detects pipeline security issues in parsed CI/CD logs using deterministic rules and a two-phase risk model.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, nil, err
		}
		logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newDetectCmd(load),
		newMigrateCmd(load),
	)
	return root
}

type loadFunc func() (*config.Config, *slog.Logger, error)

// buildOrchestrator loads the risk model and the rule set
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*detect.Orchestrator, *scorer.Scorer, error) {
	riskModel := scorer.Load(cfg.Scorer.ModelDir, cfg.Scorer.Threshold, logger)

	engine := rules.NewDefaultEngine()
	extra, err := rules.LoadPatternRules(cfg.Rules.Dir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load pattern rules: %w", err)
	}
	engine.Append(extra...)

	logger.Info("Detection engine ready",
		"rule_count", engine.Len(),
		"model_loaded", riskModel.Available(),
		"model", riskModel.ModelName())
	return detect.NewOrchestrator(engine, riskModel, logger), riskModel, nil
}
