package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/dm21cm/internal/model"
)

// createdLayout has fixed width so created_at sorts as text.
const createdLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// newID is called from concurrent scan workers; rand.Rand is not safe for that.
func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		label       TEXT,
		process     TEXT NOT NULL,
		channel     TEXT NOT NULL,
		mass_gev    REAL NOT NULL,
		sigma_v     REAL,
		source      TEXT NOT NULL,
		aborted     INTEGER NOT NULL DEFAULT 0,
		z_target    REAL NOT NULL,
		delta_tb    REAL NOT NULL,
		baseline_tb REAL NOT NULL DEFAULT 0,
		tables      TEXT NOT NULL DEFAULT '',
		cosmology   TEXT NOT NULL,
		injection   TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		deleted_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_channel_mass ON runs(channel, mass_gev);
	CREATE INDEX IF NOT EXISTS idx_runs_label ON runs(label);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_deleted ON runs(deleted_at);

	CREATE TABLE IF NOT EXISTS fz_rows (
		run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq       INTEGER NOT NULL,
		z1        REAL NOT NULL,
		h_ion     REAL NOT NULL,
		he_ion    REAL NOT NULL,
		exc       REAL NOT NULL,
		heat      REAL NOT NULL,
		continuum REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS trace_rows (
		run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq      INTEGER NOT NULL,
		z1       REAL NOT NULL,
		xe       REAL NOT NULL,
		tm       REAL NOT NULL,
		tr       REAL NOT NULL,
		ts       REAL NOT NULL,
		xc       REAL NOT NULL,
		tau      REAL NOT NULL,
		delta_tb REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS run_links (
		from_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		to_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		rel        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON run_links(to_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Add tables column if missing (databases written before provenance was recorded)
	s.db.Exec(`ALTER TABLE runs ADD COLUMN tables TEXT NOT NULL DEFAULT ''`)
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, r *model.Run) (*model.Run, error) {
	if r == nil {
		return nil, errors.New("nil run")
	}
	out := *r
	if out.ID == "" {
		out.ID = s.newID()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	cosmo, err := json.Marshal(out.Cosmology)
	if err != nil {
		return nil, fmt.Errorf("encode cosmology: %w", err)
	}
	inj, err := json.Marshal(out.Injection)
	if err != nil {
		return nil, fmt.Errorf("encode injection: %w", err)
	}

	var label *string
	if out.Label != "" {
		label = &out.Label
	}
	var deletedAt *string
	if out.DeletedAt != nil {
		d := out.DeletedAt.UTC().Format(time.RFC3339)
		deletedAt = &d
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, label, process, channel, mass_gev, sigma_v, source, aborted,
		                             z_target, delta_tb, baseline_tb, tables, cosmology, injection, created_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, label, string(out.Injection.Process), out.Injection.Channel.String(),
		out.Injection.MassGeV, out.Injection.SigmaV, string(out.Source), out.Aborted,
		out.ZTarget, out.DeltaTb, out.Baseline, out.Tables, string(cosmo), string(inj),
		out.CreatedAt.UTC().Format(createdLayout), deletedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already stored under this ID; imports rely on this.
		return &out, tx.Commit()
	}

	for i, f := range out.Fz {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO fz_rows (run_id, seq, z1, h_ion, he_ion, exc, heat, continuum)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			out.ID, i, f.Z1, f.HIon, f.HeIon, f.Exc, f.Heat, f.Continuum)
		if err != nil {
			return nil, fmt.Errorf("insert fz row: %w", err)
		}
	}
	for i, p := range out.Trace {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO trace_rows (run_id, seq, z1, xe, tm, tr, ts, xc, tau, delta_tb)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			out.ID, i, p.Z1, p.Xe, p.Tm, p.Tr, p.Ts, p.Xc, p.Tau, p.DeltaTb)
		if err != nil {
			return nil, fmt.Errorf("insert trace row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

const runColumns = `id, label, source, aborted, z_target, delta_tb, baseline_tb, tables,
	cosmology, injection, created_at, deleted_at`

func (s *SQLiteStore) Get(ctx context.Context, p GetParams) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? AND deleted_at IS NULL`, p.ID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	if err != nil {
		return nil, err
	}
	if p.Rows {
		if err := s.loadRows(ctx, &r); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func (s *SQLiteStore) loadRows(ctx context.Context, r *model.Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT z1, h_ion, he_ion, exc, heat, continuum FROM fz_rows WHERE run_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var f model.FzRow
		if err := rows.Scan(&f.Z1, &f.HIon, &f.HeIon, &f.Exc, &f.Heat, &f.Continuum); err != nil {
			return err
		}
		r.Fz = append(r.Fz, f)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	trows, err := s.db.QueryContext(ctx,
		`SELECT z1, xe, tm, tr, ts, xc, tau, delta_tb FROM trace_rows WHERE run_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return err
	}
	defer trows.Close()
	for trows.Next() {
		var p model.TracePoint
		if err := trows.Scan(&p.Z1, &p.Xe, &p.Tm, &p.Tr, &p.Ts, &p.Xc, &p.Tau, &p.DeltaTb); err != nil {
			return err
		}
		r.Trace = append(r.Trace, p)
	}
	return trows.Err()
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Run, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"deleted_at IS NULL"}
	args := []interface{}{}

	if p.Channel != "" {
		where = append(where, "channel = ?")
		args = append(args, p.Channel)
	}
	if p.Label != "" {
		where = append(where, "label = ?")
		args = append(args, p.Label)
	}
	if !p.IncludeAborted {
		where = append(where, "aborted = 0")
	}

	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`,
		runColumns, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Rm(ctx context.Context, p RmParams) error {
	var res sql.Result
	var err error
	if p.Hard {
		res, err = s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, p.ID)
	} else {
		now := time.Now().UTC().Format(time.RFC3339)
		res, err = s.db.ExecContext(ctx,
			`UPDATE runs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, now, p.ID)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (model.Run, error) {
	var r model.Run
	var label, deletedAt sql.NullString
	var source, cosmo, inj, createdAt string

	err := sc.Scan(&r.ID, &label, &source, &r.Aborted, &r.ZTarget, &r.DeltaTb, &r.Baseline, &r.Tables,
		&cosmo, &inj, &createdAt, &deletedAt)
	if err != nil {
		return r, err
	}

	r.Label = label.String
	r.Source = model.SpectrumSource(source)
	if err := json.Unmarshal([]byte(cosmo), &r.Cosmology); err != nil {
		return r, fmt.Errorf("decode cosmology of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(inj), &r.Injection); err != nil {
		return r, fmt.Errorf("decode injection of %s: %w", r.ID, err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String)
		r.DeletedAt = &t
	}
	return r, nil
}
