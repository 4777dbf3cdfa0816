// Package storage persists the content ingestion log, rule metadata and the
// evaluation run ledger in SQLite.
//
// Variant payloads are never stored; the variants table keeps only the
// metadata an operator needs to answer "what was loaded, and what ran".
// Runs are rotated so the ledger keeps at most maxRuns entries.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/kundlicore/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// timeLayout is fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS bundles (
  id            TEXT PRIMARY KEY,
  bundle_id     TEXT NOT NULL,
  version       TEXT,
  source        TEXT NOT NULL,
  variant_count INTEGER NOT NULL,
  loaded_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bundles_bundle ON bundles(bundle_id, loaded_at);
CREATE TABLE IF NOT EXISTS variants (
  bundle_id TEXT NOT NULL,
  code      TEXT NOT NULL,
  position  INTEGER NOT NULL,
  label     TEXT NOT NULL,
  scopes    TEXT NOT NULL,
  dominance TEXT NOT NULL,
  intensity REAL NOT NULL,
  point_id  TEXT,
  leaf_keys TEXT NOT NULL,
  PRIMARY KEY (bundle_id, code)
);
CREATE TABLE IF NOT EXISTS evaluation_runs (
  id              TEXT PRIMARY KEY,
  chart_ref       TEXT NOT NULL,
  scope           TEXT NOT NULL,
  variant_count   INTEGER NOT NULL,
  matched_count   INTEGER NOT NULL,
  skipped_missing INTEGER NOT NULL,
  created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON evaluation_runs(created_at);
CREATE TABLE IF NOT EXISTS run_matches (
  run_id TEXT NOT NULL,
  rank   INTEGER NOT NULL,
  code   TEXT NOT NULL,
  PRIMARY KEY (run_id, rank)
);
`

// Storage is a SQLite-backed store. It is safe for concurrent use.
type Storage struct {
	db      *sql.DB
	maxRuns int
}

// New opens (creating if needed) the database at dbPath. ":memory:" gives a
// private in-memory database, used by tests.
func New(maxRuns int, dbPath string) (*Storage, error) {
	if maxRuns < 1 {
		return nil, fmt.Errorf("maxRuns must be at least 1, got %d", maxRuns)
	}

	dsn := ":memory:"
	if dbPath != ":memory:" {
		if dbPath == "" {
			return nil, errors.New("database path is required")
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Storage{db: db, maxRuns: maxRuns}, nil
}

// Close releases the database.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordBundle appends an ingestion log row and replaces the stored rule
// metadata for the bundle. It returns the generated ingestion id.
func (s *Storage) RecordBundle(ctx context.Context, rec models.BundleRecord, variants []models.Variant) (id string, err error) {
	if rec.VariantCount == 0 {
		rec.VariantCount = len(variants)
	}
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("invalid bundle record: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.LoadedAt.IsZero() {
		rec.LoadedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO bundles(id, bundle_id, version, source, variant_count, loaded_at) VALUES(?,?,?,?,?,?)`,
		rec.ID, rec.BundleID, nullIfEmpty(rec.Version), rec.Source, rec.VariantCount, formatTime(rec.LoadedAt)); err != nil {
		return "", err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM variants WHERE bundle_id = ?`, rec.BundleID); err != nil {
		return "", err
	}
	for i := range variants {
		vr := models.NewVariantRecord(rec.BundleID, i, &variants[i])
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO variants(bundle_id, code, position, label, scopes, dominance, intensity, point_id, leaf_keys) VALUES(?,?,?,?,?,?,?,?,?)`,
			vr.BundleID, vr.Code, vr.Position, vr.Label, joinScopes(vr.Scopes), string(vr.Dominance), vr.Intensity,
			nullIfEmpty(vr.PointID), strings.Join(vr.LeafKeys, ",")); err != nil {
			return "", fmt.Errorf("insert variant %s: %w", vr.Code, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ListBundles returns ingestion log rows, newest first. An empty bundleID
// lists every bundle.
func (s *Storage) ListBundles(ctx context.Context, bundleID string) ([]models.BundleRecord, error) {
	query := `SELECT id, bundle_id, version, source, variant_count, loaded_at FROM bundles`
	var args []any
	if bundleID != "" {
		query += ` WHERE bundle_id = ?`
		args = append(args, bundleID)
	}
	query += ` ORDER BY loaded_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BundleRecord
	for rows.Next() {
		var (
			rec      models.BundleRecord
			version  sql.NullString
			loadedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.BundleID, &version, &rec.Source, &rec.VariantCount, &loadedAt); err != nil {
			return nil, err
		}
		rec.Version = version.String
		if rec.LoadedAt, err = parseTime(loadedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// VariantsByBundle returns the stored rule metadata of a bundle in
// declaration order.
func (s *Storage) VariantsByBundle(ctx context.Context, bundleID string) ([]models.VariantRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bundle_id, code, position, label, scopes, dominance, intensity, point_id, leaf_keys FROM variants WHERE bundle_id = ? ORDER BY position`,
		bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VariantRecord
	for rows.Next() {
		var (
			vr                       models.VariantRecord
			scopes, dominance, leafs string
			pointID                  sql.NullString
		)
		if err := rows.Scan(&vr.BundleID, &vr.Code, &vr.Position, &vr.Label, &scopes, &dominance, &vr.Intensity, &pointID, &leafs); err != nil {
			return nil, err
		}
		vr.Scopes = splitScopes(scopes)
		vr.Dominance = models.Dominance(dominance)
		vr.PointID = pointID.String
		vr.LeafKeys = splitList(leafs)
		out = append(out, vr)
	}
	return out, rows.Err()
}

// RecordRun stores a run and its matched codes. ID and CreatedAt are filled
// in when empty.
func (s *Storage) RecordRun(ctx context.Context, run *models.Run) (err error) {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO evaluation_runs(id, chart_ref, scope, variant_count, matched_count, skipped_missing, created_at) VALUES(?,?,?,?,?,?,?)`,
		run.ID, run.ChartRef, string(run.Scope), run.VariantCount, run.MatchedCount, run.SkippedMissing, formatTime(run.CreatedAt)); err != nil {
		return err
	}
	for i, code := range run.MatchedCodes {
		if _, err = tx.ExecContext(ctx, `INSERT INTO run_matches(run_id, rank, code) VALUES(?,?,?)`, run.ID, i+1, code); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRun retrieves a run by id.
func (s *Storage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chart_ref, scope, variant_count, matched_count, skipped_missing, created_at FROM evaluation_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if run.MatchedCodes, err = s.matchedCodes(ctx, run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Storage) RecentRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		return []models.Run{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chart_ref, scope, variant_count, matched_count, skipped_missing, created_at FROM evaluation_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Matches are read after rows is closed: the pool holds one connection.
	for i := range runs {
		if runs[i].MatchedCodes, err = s.matchedCodes(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// RotateRuns deletes the oldest runs beyond maxRuns and returns how many
// were removed.
func (s *Storage) RotateRuns(ctx context.Context) (removed int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM evaluation_runs WHERE id NOT IN (SELECT id FROM evaluation_runs ORDER BY created_at DESC, rowid DESC LIMIT ?)`, s.maxRuns)
	if err != nil {
		return 0, err
	}
	if removed, err = res.RowsAffected(); err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM run_matches WHERE run_id NOT IN (SELECT id FROM evaluation_runs)`); err != nil {
		return 0, err
	}
	return removed, tx.Commit()
}

func (s *Storage) matchedCodes(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code FROM run_matches WHERE run_id = ? ORDER BY rank`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*models.Run, error) {
	var (
		run       models.Run
		scope     string
		createdAt string
	)
	if err := sc.Scan(&run.ID, &run.ChartRef, &scope, &run.VariantCount, &run.MatchedCount, &run.SkippedMissing, &createdAt); err != nil {
		return nil, err
	}
	run.Scope = models.Scope(scope)
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = t
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinScopes(scopes []models.Scope) string {
	parts := make([]string, len(scopes))
	for i, sc := range scopes {
		parts[i] = string(sc)
	}
	return strings.Join(parts, ",")
}

func splitScopes(s string) []models.Scope {
	var out []models.Scope
	for _, p := range splitList(s) {
		out = append(out, models.Scope(p))
	}
	return out
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
