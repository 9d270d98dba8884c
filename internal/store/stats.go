package store

import (
	"context"
	"os"

	"github.com/rcliao/dm21cm/internal/deposition"
)

// Stats holds database statistics. SyntheticRuns counts active runs
// computed on the built-in synthetic deposition tables.
type Stats struct {
	DBPath        string         `json:"db_path"`
	DBSizeBytes   int64          `json:"db_size_bytes"`
	TotalRuns     int            `json:"total_runs"`
	ActiveRuns    int            `json:"active_runs"`
	AbortedRuns   int            `json:"aborted_runs"`
	SyntheticRuns int            `json:"synthetic_runs"`
	FzRows        int            `json:"fz_rows"`
	TraceRows     int            `json:"trace_rows"`
	Links         int            `json:"links"`
	Channels      []ChannelStats `json:"channels"`
}

// ChannelStats holds per-channel counts and the mass and excess ranges
// covered by active runs.
type ChannelStats struct {
	Channel   string  `json:"channel"`
	Count     int     `json:"count"`
	MinMass   float64 `json:"min_mass_gev"`
	MaxMass   float64 `json:"max_mass_gev"`
	MinExcess float64 `json:"min_excess_k"`
	MaxExcess float64 `json:"max_excess_k"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&st.TotalRuns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE deleted_at IS NULL`).Scan(&st.ActiveRuns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE deleted_at IS NULL AND aborted = 1`).Scan(&st.AbortedRuns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE deleted_at IS NULL AND tables = ?`,
		deposition.OriginSynthetic).Scan(&st.SyntheticRuns)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fz_rows`).Scan(&st.FzRows)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trace_rows`).Scan(&st.TraceRows)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_links`).Scan(&st.Links)

	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, COUNT(*) AS cnt, MIN(mass_gev), MAX(mass_gev),
		       MIN(delta_tb - baseline_tb), MAX(delta_tb - baseline_tb)
		FROM runs WHERE deleted_at IS NULL
		GROUP BY channel ORDER BY cnt DESC, channel`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var cs ChannelStats
		if err := rows.Scan(&cs.Channel, &cs.Count, &cs.MinMass, &cs.MaxMass, &cs.MinExcess, &cs.MaxExcess); err != nil {
			return st, err
		}
		st.Channels = append(st.Channels, cs)
	}

	return st, rows.Err()
}
