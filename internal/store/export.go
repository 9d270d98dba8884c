package store

import (
	"context"
	"strings"

	"github.com/rcliao/dm21cm/internal/model"
)

// ExportAll returns all non-deleted runs with their rows, optionally
// filtered by channel.
func (s *SQLiteStore) ExportAll(ctx context.Context, channel string) ([]model.Run, error) {
	where := []string{"deleted_at IS NULL"}
	args := []interface{}{}

	if channel != "" {
		where = append(where, "channel = ?")
		args = append(args, channel)
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		if err := s.loadRows(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// Import stores runs from an export, keeping their IDs. Runs already present
// are skipped. Returns the number of runs newly stored.
func (s *SQLiteStore) Import(ctx context.Context, runs []model.Run) (int, error) {
	imported := 0
	for i := range runs {
		r := runs[i]
		if r.ID != "" {
			var n int
			if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, r.ID).Scan(&n); err != nil {
				return imported, err
			}
			if n > 0 {
				continue
			}
		}
		if _, err := s.Put(ctx, &r); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
