package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/abdelilah771/devsecops-pipeline/internal/detect"
	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/abdelilah771/devsecops-pipeline/internal/validate"
	"github.com/spf13/cobra"
)

func newDetectCmd(load loadFunc) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run detection offline over a DetectRequest JSON file",
		Example: `  vulndetector detect --file request.json
  cat request.json | vulndetector detect --file -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			data, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			validator, err := validate.NewSchemaValidator(logger)
			if err != nil {
				return err
			}
			if err := validator.ValidateDetectRequest(data); err != nil {
				return err
			}
			var req model.DetectRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("failed to decode request: %w", err)
			}

			orch, _, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}
			resp := runDetect(orch, req)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request file, or - for stdin")
	return cmd
}

func runDetect(orch *detect.Orchestrator, req model.DetectRequest) model.DetectResponse {
	var duration *float64
	if req.Metadata != nil {
		duration = req.Metadata.DurationSeconds
	}
	for i := range req.Events {
		if req.Events[i].RunID == "" {
			req.Events[i].RunID = req.RunID
		}
	}
	vulns := orch.DetectRun(detect.NewRun(req.RunID, req.Provider, duration), req.Events)
	return model.DetectResponse{
		RunID:           req.RunID,
		RiskScore:       model.AggregateRisk(vulns),
		Vulnerabilities: vulns,
	}
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return data, nil
}
