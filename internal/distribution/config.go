package distribution

import (
	"distribution_engine/internal/repository"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger     *slog.Logger
	Repository repository.DbRepository
	Clock      clockwork.Clock

	// MaxConflictRetries bounds the retries of a conditional write that lost a race,
	// nonce allocation included.
	MaxConflictRetries int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Repository == nil {
		return errors.New("repository is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 10
	}
	return nil
}

// Engine groups the components that share one store.
type Engine struct {
	Registry  *Registry
	Files     *Files
	Lifecycle *Lifecycle
	Planner   *Planner
	Signer    *Signer
	Tracker   *Tracker
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry := &Registry{log: cfg.Logger, cfg: cfg}
	files := &Files{log: cfg.Logger, cfg: cfg}
	return &Engine{
		Registry:  registry,
		Files:     files,
		Lifecycle: &Lifecycle{log: cfg.Logger, cfg: cfg, registry: registry, files: files},
		Planner:   &Planner{log: cfg.Logger, cfg: cfg},
		Signer:    &Signer{log: cfg.Logger, cfg: cfg},
		Tracker:   &Tracker{log: cfg.Logger, cfg: cfg},
	}, nil
}
