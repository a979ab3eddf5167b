package services

import (
	"context"
	"distribution_engine/internal/distribution"
	"distribution_engine/internal/models"
	"distribution_engine/internal/utils"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
)

type PlanRequest struct {
	ContractAddress string
	InitiatedBy     string
	ManifestPath    string
	BatchSize       int

	// EventID resumes planning of an existing event instead of creating one.
	EventID string
	// Progress renders a progress bar on stderr.
	Progress bool
}

type PlanResult struct {
	Event   *models.Event
	File    *models.File
	Batches []models.Batch
}

// PlanDistribution turns a recipient manifest into a planned event: the manifest is
// registered as a distribution file, an event is created against the contract and
// the recipients are partitioned into batches. Re-running with the EventID of an
// interrupted run only creates the batches that are still missing.
func PlanDistribution(ctx context.Context, log *slog.Logger, engine *distribution.Engine, req PlanRequest) (*PlanResult, error) {
	f, err := os.Open(req.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	recipients, err := ReadManifest(f)
	if err != nil {
		return nil, err
	}
	amounts := make([]string, len(recipients))
	for i, recipient := range recipients {
		amounts[i] = recipient.Amount.String()
	}
	total, _ := utils.SumAmounts(amounts)
	log.Info("Manifest loaded", "path", req.ManifestPath, "recipients", len(recipients), "totalEther", utils.ConvertWeiToEther(total))

	result := &PlanResult{}
	if req.EventID != "" {
		result.Event, err = engine.Lifecycle.Get(ctx, req.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to load event %s: %w", req.EventID, err)
		}
		if result.Event.FileID != "" {
			result.File, err = engine.Files.Get(ctx, result.Event.FileID)
			if err != nil {
				return nil, fmt.Errorf("failed to load file of event %s: %w", req.EventID, err)
			}
		}
	} else {
		if _, err := engine.Registry.Get(ctx, req.ContractAddress); err != nil {
			return nil, err
		}
		result.File, err = engine.Files.Register(ctx, filepath.Base(req.ManifestPath), req.ManifestPath, total.String(), len(recipients))
		if err != nil {
			return nil, err
		}
		result.Event, err = engine.Lifecycle.Create(ctx, req.ContractAddress, req.InitiatedBy, result.File.ID)
		if err != nil {
			return nil, err
		}
	}

	bar := progressbar.DefaultSilent(int64(len(recipients)), "planning")
	if req.Progress {
		bar = progressbar.Default(int64(len(recipients)), "planning")
	}
	defer bar.Finish()

	result.Batches, err = engine.Planner.Plan(ctx, result.Event.ID, recipients, req.BatchSize, func(planned int) {
		bar.Add(planned)
	})
	if err != nil {
		return nil, err
	}
	log.Info("Distribution planned", "event", result.Event.ID, "batches", len(result.Batches))
	return result, nil
}
