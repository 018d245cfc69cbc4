// Package ledger is the durable record of every edit attempt: the edits
// table, the error log, and the aggregate metrics singleton.
//
// Edits are append-mostly: rows are created once per submission and only
// their status may change afterwards, via the explicit pending→applied or
// pending→reverted transitions. Nothing is ever deleted.
package ledger

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/sitemend/sitemend/internal/apperr"
	"github.com/sitemend/sitemend/internal/intent"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusReverted Status = "reverted"
	StatusFailed   Status = "failed"
)

type Edit struct {
	EditID         string        `json:"edit_id"`
	ProjectID      string        `json:"project_id"`
	UserID         string        `json:"user_id"`
	CreatedAt      time.Time     `json:"created_at"`
	Intent         intent.Intent `json:"intent"`
	OriginalPrompt string        `json:"original_prompt"`
	Diff           string        `json:"diff,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	Status         Status        `json:"status"`
	RetryCount     int           `json:"retry_count"`
	TokenCount     int           `json:"token_count"`
	Cost           float64       `json:"cost"`
	LatencyMS      int64         `json:"latency_ms"`
	Error          string        `json:"error,omitempty"`
}

type ErrorLog struct {
	ErrorID        string    `json:"error_id"`
	CreatedAt      time.Time `json:"created_at"`
	ProjectID      string    `json:"project_id"`
	UserID         string    `json:"user_id"`
	ErrorType      string    `json:"error_type"`
	ErrorMessage   string    `json:"error_message"`
	OriginalPrompt string    `json:"original_prompt"`
	Resolved       bool      `json:"resolved"`
}

type Metrics struct {
	TotalEdits      int64     `json:"total_edits"`
	SuccessfulEdits int64     `json:"successful_edits"`
	FailedEdits     int64     `json:"failed_edits"`
	TotalCost       float64   `json:"total_cost"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	LastUpdated     time.Time `json:"last_updated"`
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}

// SaveEdit inserts a new ledger row and returns its id. Status defaults to
// pending; failure paths pass StatusFailed explicitly.
func (s *Store) SaveEdit(ctx context.Context, e Edit) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.ProjectID = strings.TrimSpace(e.ProjectID)
	e.UserID = strings.TrimSpace(e.UserID)
	if e.ProjectID == "" {
		return "", apperr.New(apperr.KindInvalidArgument, "missing project id")
	}
	if e.EditID == "" {
		e.EditID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}

	intentJSON, err := json.Marshal(e.Intent)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO edits(
  edit_id, project_id, user_id, created_at_unix_ms, intent_json,
  original_prompt, diff, summary, status, retry_count, token_count,
  cost, latency_ms, error
) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		e.EditID, e.ProjectID, e.UserID, e.CreatedAt.UnixMilli(), string(intentJSON),
		e.OriginalPrompt, e.Diff, e.Summary, string(e.Status), e.RetryCount, e.TokenCount,
		e.Cost, e.LatencyMS, e.Error,
	)
	if err != nil {
		return "", err
	}
	return e.EditID, nil
}

// History returns the project's edits newest-first.
func (s *Store) History(ctx context.Context, projectID string, limit int) ([]Edit, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "missing project id")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT edit_id, project_id, user_id, created_at_unix_ms, intent_json,
       original_prompt, diff, summary, status, retry_count, token_count,
       cost, latency_ms, error
FROM edits
WHERE project_id = ?
ORDER BY created_at_unix_ms DESC, edit_id DESC
LIMIT ?
`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Edit, 0, limit)
	for rows.Next() {
		var (
			e          Edit
			createdMS  int64
			intentJSON string
			status     string
		)
		if err := rows.Scan(
			&e.EditID, &e.ProjectID, &e.UserID, &createdMS, &intentJSON,
			&e.OriginalPrompt, &e.Diff, &e.Summary, &status, &e.RetryCount, &e.TokenCount,
			&e.Cost, &e.LatencyMS, &e.Error,
		); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdMS).UTC()
		e.Status = Status(status)
		if intentJSON != "" {
			_ = json.Unmarshal([]byte(intentJSON), &e.Intent)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEdit returns one edit by id, scoped to its project.
func (s *Store) GetEdit(ctx context.Context, projectID string, editID string) (Edit, error) {
	if s == nil || s.db == nil {
		return Edit{}, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	projectID = strings.TrimSpace(projectID)
	editID = strings.TrimSpace(editID)
	if projectID == "" || editID == "" {
		return Edit{}, apperr.New(apperr.KindInvalidArgument, "missing project or edit id")
	}

	var (
		e          Edit
		createdMS  int64
		intentJSON string
		status     string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT edit_id, project_id, user_id, created_at_unix_ms, intent_json,
       original_prompt, diff, summary, status, retry_count, token_count,
       cost, latency_ms, error
FROM edits
WHERE project_id = ? AND edit_id = ?
`, projectID, editID).Scan(
		&e.EditID, &e.ProjectID, &e.UserID, &createdMS, &intentJSON,
		&e.OriginalPrompt, &e.Diff, &e.Summary, &status, &e.RetryCount, &e.TokenCount,
		&e.Cost, &e.LatencyMS, &e.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Edit{}, apperr.Newf(apperr.KindNotFound, "edit %s not found", editID)
	}
	if err != nil {
		return Edit{}, err
	}
	e.CreatedAt = time.UnixMilli(createdMS).UTC()
	e.Status = Status(status)
	if intentJSON != "" {
		_ = json.Unmarshal([]byte(intentJSON), &e.Intent)
	}
	return e, nil
}

// UpdateStatus transitions an edit from pending to applied or reverted.
// Any other transition is a conflict; a missing edit is NotFound.
func (s *Store) UpdateStatus(ctx context.Context, projectID string, editID string, status Status) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	projectID = strings.TrimSpace(projectID)
	editID = strings.TrimSpace(editID)
	if projectID == "" || editID == "" {
		return apperr.New(apperr.KindInvalidArgument, "missing project or edit id")
	}
	if status != StatusApplied && status != StatusReverted {
		return apperr.Newf(apperr.KindInvalidArgument, "illegal target status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `
SELECT status FROM edits WHERE project_id = ? AND edit_id = ?
`, projectID, editID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "edit %s not found", editID)
	}
	if err != nil {
		return err
	}
	if Status(current) != StatusPending {
		return apperr.Newf(apperr.KindConflict, "edit %s is %s, only pending edits can transition", editID, current)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE edits SET status = ? WHERE project_id = ? AND edit_id = ?
`, string(status), projectID, editID); err != nil {
		return err
	}
	return tx.Commit()
}

// LogError records a pipeline failure. Resolved flips only via operator
// action outside this core.
func (s *Store) LogError(ctx context.Context, l ErrorLog) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if l.ErrorID == "" {
		l.ErrorID = newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO error_logs(error_id, created_at_unix_ms, project_id, user_id, error_type, error_message, original_prompt, resolved)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
`, l.ErrorID, l.CreatedAt.UnixMilli(), strings.TrimSpace(l.ProjectID), strings.TrimSpace(l.UserID), l.ErrorType, l.ErrorMessage, l.OriginalPrompt, boolToInt(l.Resolved))
	if err != nil {
		return "", err
	}
	return l.ErrorID, nil
}

// ErrorLogs returns unresolved errors newest-first.
func (s *Store) ErrorLogs(ctx context.Context, limit int) ([]ErrorLog, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT error_id, created_at_unix_ms, project_id, user_id, error_type, error_message, original_prompt, resolved
FROM error_logs
WHERE resolved = 0
ORDER BY created_at_unix_ms DESC, error_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ErrorLog, 0, limit)
	for rows.Next() {
		var (
			l         ErrorLog
			createdMS int64
			resolved  int
		)
		if err := rows.Scan(&l.ErrorID, &createdMS, &l.ProjectID, &l.UserID, &l.ErrorType, &l.ErrorMessage, &l.OriginalPrompt, &resolved); err != nil {
			return nil, err
		}
		l.CreatedAt = time.UnixMilli(createdMS).UTC()
		l.Resolved = resolved != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateMetrics folds one edit attempt into the singleton metrics row with a
// transactional read-modify-write, so concurrent edits across projects never
// lose updates. The running average is recomputed from the prior count, not
// stored per-sample.
func (s *Store) UpdateMetrics(ctx context.Context, success bool, cost float64, latencyMS int64) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	m, err := readMetricsTx(ctx, tx)
	if err != nil {
		return err
	}

	prior := m.TotalEdits
	m.TotalEdits++
	if success {
		m.SuccessfulEdits++
	} else {
		m.FailedEdits++
	}
	m.TotalCost += cost
	m.AvgLatencyMS = (m.AvgLatencyMS*float64(prior) + float64(latencyMS)) / float64(m.TotalEdits)
	m.LastUpdated = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
UPDATE metrics
SET total_edits = ?, successful_edits = ?, failed_edits = ?, total_cost = ?, avg_latency_ms = ?, last_updated_unix_ms = ?
WHERE id = 1
`, m.TotalEdits, m.SuccessfulEdits, m.FailedEdits, m.TotalCost, m.AvgLatencyMS, m.LastUpdated.UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

// Metrics returns the aggregate counters, lazily initializing a zeroed row
// on first read.
func (s *Store) Metrics(ctx context.Context) (Metrics, error) {
	if s == nil || s.db == nil {
		return Metrics{}, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Metrics{}, err
	}
	defer func() { _ = tx.Rollback() }()

	m, err := readMetricsTx(ctx, tx)
	if err != nil {
		return Metrics{}, err
	}
	return m, tx.Commit()
}

func readMetricsTx(ctx context.Context, tx *sql.Tx) (Metrics, error) {
	var (
		m         Metrics
		updatedMS int64
	)
	err := tx.QueryRowContext(ctx, `
SELECT total_edits, successful_edits, failed_edits, total_cost, avg_latency_ms, last_updated_unix_ms
FROM metrics WHERE id = 1
`).Scan(&m.TotalEdits, &m.SuccessfulEdits, &m.FailedEdits, &m.TotalCost, &m.AvgLatencyMS, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO metrics(id, total_edits, successful_edits, failed_edits, total_cost, avg_latency_ms, last_updated_unix_ms)
VALUES(1, 0, 0, 0, 0, 0, 0)
`); err != nil {
			return Metrics{}, err
		}
		return Metrics{}, nil
	}
	if err != nil {
		return Metrics{}, err
	}
	if updatedMS > 0 {
		m.LastUpdated = time.UnixMilli(updatedMS).UTC()
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	const targetVersion = 1
	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS edits (
  edit_id TEXT PRIMARY KEY,
  project_id TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL,
  intent_json TEXT NOT NULL DEFAULT '{}',
  original_prompt TEXT NOT NULL DEFAULT '',
  diff TEXT NOT NULL DEFAULT '',
  summary TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'pending',
  retry_count INTEGER NOT NULL DEFAULT 0,
  token_count INTEGER NOT NULL DEFAULT 0,
  cost REAL NOT NULL DEFAULT 0,
  latency_ms INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_edits_project_created ON edits(project_id, created_at_unix_ms DESC, edit_id DESC);

CREATE TABLE IF NOT EXISTS error_logs (
  error_id TEXT PRIMARY KEY,
  created_at_unix_ms INTEGER NOT NULL,
  project_id TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL DEFAULT '',
  error_type TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  original_prompt TEXT NOT NULL DEFAULT '',
  resolved INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_error_logs_resolved_created ON error_logs(resolved, created_at_unix_ms DESC);

CREATE TABLE IF NOT EXISTS metrics (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  total_edits INTEGER NOT NULL DEFAULT 0,
  successful_edits INTEGER NOT NULL DEFAULT 0,
  failed_edits INTEGER NOT NULL DEFAULT 0,
  total_cost REAL NOT NULL DEFAULT 0,
  avg_latency_ms REAL NOT NULL DEFAULT 0,
  last_updated_unix_ms INTEGER NOT NULL DEFAULT 0
);
`); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
