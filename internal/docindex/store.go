package docindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/sitemend/sitemend/internal/apperr"
)

const cacheSize = 128

// Store persists document indexes in SQLite. Full document text is
// zstd-compressed at rest; the decoded Index is cached in-process behind an
// LRU so repeated edits to the same project skip the decode.
//
// WAL is enabled to support concurrent reads while writing.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, Index]
	enc   *zstd.Encoder
	dec   *zstd.Decoder

	buildGroup singleflight.Group
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

	cache, err := lru.New[string, Index](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, cache: cache, enc: enc, dec: dec}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// Save overwrites the project's index wholesale. There is no incremental
// update path; rebuilds replace the stored row.
func (s *Store) Save(ctx context.Context, idx Index) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	idx.ProjectID = strings.TrimSpace(idx.ProjectID)
	if idx.ProjectID == "" {
		return apperr.New(apperr.KindInvalidArgument, "missing project id")
	}
	if idx.LastIndexedAt.IsZero() {
		idx.LastIndexedAt = time.Now().UTC()
	}

	sectionsJSON, err := json.Marshal(idx.Sections)
	if err != nil {
		return err
	}
	compressed := s.enc.EncodeAll([]byte(idx.Document), nil)

	_, err = s.db.ExecContext(ctx, `
INSERT INTO project_indexes(project_id, document_zstd, sections_json, style_system, last_indexed_at_unix_ms)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(project_id) DO UPDATE SET
  document_zstd = excluded.document_zstd,
  sections_json = excluded.sections_json,
  style_system = excluded.style_system,
  last_indexed_at_unix_ms = excluded.last_indexed_at_unix_ms
`, idx.ProjectID, compressed, string(sectionsJSON), idx.StyleSystem, idx.LastIndexedAt.UnixMilli())
	if err != nil {
		return err
	}

	s.cache.Add(idx.ProjectID, idx)
	return nil
}

// Load returns the project's index, or nil when none has been built yet.
func (s *Store) Load(ctx context.Context, projectID string) (*Index, error) {
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

	if idx, ok := s.cache.Get(projectID); ok {
		return &idx, nil
	}

	var (
		compressed   []byte
		sectionsJSON string
		styleSystem  string
		indexedAtMS  int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT document_zstd, sections_json, style_system, last_indexed_at_unix_ms
FROM project_indexes
WHERE project_id = ?
`, projectID).Scan(&compressed, &sectionsJSON, &styleSystem, &indexedAtMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	document, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress document: %w", err)
	}
	sections := make(map[string]Section)
	if err := json.Unmarshal([]byte(sectionsJSON), &sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}

	idx := Index{
		ProjectID:     projectID,
		Document:      string(document),
		Sections:      sections,
		StyleSystem:   styleSystem,
		LastIndexedAt: time.UnixMilli(indexedAtMS).UTC(),
	}
	s.cache.Add(projectID, idx)
	return &idx, nil
}

// LoadOrBuild returns the stored index, building and persisting one from
// document on first use. Concurrent first-use calls for the same project are
// collapsed into a single build.
//
// A missing index with an empty document is a NotFound: the caller must
// supply the document on first submission.
func (s *Store) LoadOrBuild(ctx context.Context, projectID string, document string) (*Index, error) {
	idx, err := s.Load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if idx != nil {
		return idx, nil
	}
	if strings.TrimSpace(document) == "" {
		return nil, apperr.Newf(apperr.KindNotFound, "no index for project %s and no document supplied", projectID)
	}

	v, err, _ := s.buildGroup.Do(projectID, func() (any, error) {
		// Re-check under the flight: a concurrent call may have built it.
		if existing, err := s.Load(ctx, projectID); err != nil || existing != nil {
			return existing, err
		}
		built := Build(projectID, document)
		if err := s.Save(ctx, built); err != nil {
			return nil, err
		}
		return &built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Rebuild unconditionally re-scans document and replaces the stored index.
func (s *Store) Rebuild(ctx context.Context, projectID string, document string) (*Index, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "missing project id")
	}
	if strings.TrimSpace(document) == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "missing document")
	}
	idx := Build(projectID, document)
	if err := s.Save(ctx, idx); err != nil {
		return nil, err
	}
	return &idx, nil
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
CREATE TABLE IF NOT EXISTS project_indexes (
  project_id TEXT PRIMARY KEY,
  document_zstd BLOB NOT NULL,
  sections_json TEXT NOT NULL DEFAULT '{}',
  style_system TEXT NOT NULL DEFAULT 'unknown',
  last_indexed_at_unix_ms INTEGER NOT NULL
);
`); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version=%d;`, targetVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
