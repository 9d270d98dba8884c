package store

import (
	"context"
	"fmt"
	"time"
)

// Relations between runs.
const (
	// RelCalibratedFrom links a calibrated run to the run whose signal it matched.
	RelCalibratedFrom = "calibrated_from"
	// RelComparesTo links two runs meant to be read side by side.
	RelComparesTo = "compares_to"
)

var validRels = map[string]bool{
	RelCalibratedFrom: true,
	RelComparesTo:     true,
}

// LinkParams holds parameters for creating/removing a link.
type LinkParams struct {
	FromID string
	ToID   string
	Rel    string
	Remove bool
}

// Link represents a relation between two runs.
type Link struct {
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	Rel       string `json:"rel"`
	CreatedAt string `json:"created_at"`
}

// Link creates or removes a relation between two runs.
func (s *SQLiteStore) Link(ctx context.Context, p LinkParams) (*Link, error) {
	if !validRels[p.Rel] {
		return nil, fmt.Errorf("invalid relation %q (valid: %s, %s)", p.Rel, RelCalibratedFrom, RelComparesTo)
	}
	for _, id := range []string{p.FromID, p.ToID} {
		if err := s.requireRun(ctx, id); err != nil {
			return nil, err
		}
	}

	if p.Remove {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM run_links WHERE from_id = ? AND to_id = ? AND rel = ?`,
			p.FromID, p.ToID, p.Rel)
		if err != nil {
			return nil, err
		}
		return &Link{FromID: p.FromID, ToID: p.ToID, Rel: p.Rel}, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_links (from_id, to_id, rel, created_at) VALUES (?, ?, ?, ?)`,
		p.FromID, p.ToID, p.Rel, now)
	if err != nil {
		return nil, err
	}

	return &Link{FromID: p.FromID, ToID: p.ToID, Rel: p.Rel, CreatedAt: now}, nil
}

// GetLinks returns all links touching a run.
func (s *SQLiteStore) GetLinks(ctx context.Context, runID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, rel, created_at FROM run_links
		 WHERE from_id = ? OR to_id = ? ORDER BY created_at`, runID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.FromID, &l.ToID, &l.Rel, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteStore) requireRun(ctx context.Context, id string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE id = ? AND deleted_at IS NULL`, id).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
