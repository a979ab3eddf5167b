package distribution

import (
	"context"
	"distribution_engine/internal/models"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Files keeps metadata about uploaded recipient manifests.
type Files struct {
	log *slog.Logger
	cfg Config
}

func (f *Files) Register(ctx context.Context, name, path, numOfTokens string, numOfTransfers int) (*models.File, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: file name is required", models.ErrInvalidInput)
	}
	tokens, err := parseAmount(numOfTokens)
	if err != nil {
		return nil, err
	}
	if numOfTransfers < 0 {
		return nil, fmt.Errorf("%w: negative transfer count %d", models.ErrInvalidInput, numOfTransfers)
	}
	file := models.File{
		ID:             uuid.NewString(),
		Name:           name,
		Path:           path,
		NumOfTokens:    tokens.String(),
		NumOfTransfers: numOfTransfers,
		State:          models.LifecycleActive,
	}
	if err := f.cfg.Repository.InsertFile(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to insert file: %w", err)
	}
	f.log.Info("files: manifest registered", "file", file.ID, "name", name, "transfers", numOfTransfers)
	return &file, nil
}

func (f *Files) Get(ctx context.Context, id string) (*models.File, error) {
	file, err := f.cfg.Repository.FindFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !file.State.IsActive() {
		return nil, fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	return file, nil
}

// SoftDelete hides the file from lookups. Events that already link it keep the link.
func (f *Files) SoftDelete(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	return f.cfg.Repository.SetFileState(ctx, id, models.LifecycleDeleted)
}

func (f *Files) List(ctx context.Context, activeOnly bool) ([]models.File, error) {
	return f.cfg.Repository.ListFiles(ctx, activeOnly)
}
