package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/model"
)

// ErrNotFound is returned when a record or job does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for uploaded records and job
// history.
type Store interface {
	// Records
	InsertRecords(ctx context.Context, uploadID int64, records []model.Record) (int, error)
	ListRecords(ctx context.Context, uploadID int64) ([]model.Record, error)
	GetRecord(ctx context.Context, id int64) (*model.Record, error)
	// ApplyPatch writes the non-nil fields of patch in a single statement.
	ApplyPatch(ctx context.Context, id int64, patch model.RecordPatch) error

	// Job history
	SaveJob(ctx context.Context, snap model.Snapshot) error
	GetJob(ctx context.Context, id string) (*model.Snapshot, error)
	ListJobs(ctx context.Context, limit int) ([]model.Snapshot, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
