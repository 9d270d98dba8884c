// Package store provides the run storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/dm21cm/internal/model"
)

// ErrNotFound is returned when no live run matches an ID.
var ErrNotFound = errors.New("run not found")

// GetParams holds parameters for retrieving a run.
type GetParams struct {
	ID string
	// Rows loads the fz and trace rows along with the summary.
	Rows bool
}

// ListParams holds parameters for listing runs.
type ListParams struct {
	Channel        string
	Label          string
	Limit          int
	IncludeAborted bool
}

// RmParams holds parameters for deleting a run.
type RmParams struct {
	ID   string
	Hard bool
}

// Store defines the run storage interface.
type Store interface {
	// Put stores a run and its rows. Returns the run with ID and CreatedAt set.
	Put(ctx context.Context, r *model.Run) (*model.Run, error)

	// Get retrieves a run by ID.
	Get(ctx context.Context, p GetParams) (*model.Run, error)

	// List lists run summaries, newest first.
	List(ctx context.Context, p ListParams) ([]model.Run, error)

	// Rm soft-deletes (or hard-deletes) a run.
	Rm(ctx context.Context, p RmParams) error

	// Close closes the store.
	Close() error
}
