package persistence

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
)

var (
	// ErrNotFound is returned when a record does not exist or belongs to another owner
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record whose ID is taken
	ErrAlreadyExists = errors.New("already exists")
)

// PluginPersistence provides storage operations for persistence plugins.
// This is the main interface that all persistence backends must implement.
type PluginPersistence interface {
	// StrategyStorage returns the strategy storage implementation
	StrategyStorage() StrategyStorage

	// ProfileStorage returns the risk profile storage implementation
	ProfileStorage() ProfileStorage

	// RunStorage returns the run history storage implementation
	RunStorage() RunStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// StrategyStorage keeps user strategies. Every read is scoped to an owner.
type StrategyStorage interface {
	// Create stores a new strategy, failing with ErrAlreadyExists if the ID is taken
	Create(ctx context.Context, s *domain.Strategy) error

	// Update replaces an existing strategy of the same owner
	Update(ctx context.Context, s *domain.Strategy) error

	// Get retrieves a strategy by ID
	Get(ctx context.Context, owner, id string) (*domain.Strategy, error)

	// List returns the owner's strategies, most recently created first
	List(ctx context.Context, owner string) ([]*domain.Strategy, error)

	// Delete removes a strategy
	Delete(ctx context.Context, owner, id string) error
}

// ProfileStorage keeps the per-owner risk settings.
type ProfileStorage interface {
	// GetRiskSettings returns ErrNotFound when the owner never saved settings
	GetRiskSettings(ctx context.Context, owner string) (*domain.RiskSettings, error)

	SaveRiskSettings(ctx context.Context, owner string, settings domain.RiskSettings) error
}

// RunStorage keeps the history of task runs.
type RunStorage interface {
	// SaveRun inserts or replaces a run record
	SaveRun(ctx context.Context, rec *domain.RunRecord) error

	// GetRun retrieves a run by ID
	GetRun(ctx context.Context, owner, id string) (*domain.RunRecord, error)

	// ListRuns returns at most limit runs of the owner, newest first
	ListRuns(ctx context.Context, owner string, limit int) ([]*domain.RunRecord, error)
}
