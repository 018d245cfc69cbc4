// Package auditlog keeps a best-effort JSONL trail of pipeline outcomes,
// size-rotated on disk. It is operational breadcrumbs, not the ledger: the
// durable record of edits lives in the ledger package.
package auditlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxBytes   = int64(4 << 20) // 4 MiB
	defaultMaxBackups = 3
)

// Actions recorded by the orchestrator.
const (
	ActionEditSubmitted    = "edit_submitted"
	ActionEditApplied      = "edit_applied"
	ActionEditReverted     = "edit_reverted"
	ActionProjectReindexed = "project_reindexed"
)

type Entry struct {
	CreatedAt string `json:"created_at"`

	// Action is a short, stable identifier (e.g. "edit_submitted").
	Action string `json:"action"`

	// Status is "success" or "failure".
	Status string `json:"status"`

	ProjectID string `json:"project_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	EditID    string `json:"edit_id,omitempty"`

	// Error is a human-readable failure summary.
	Error string `json:"error,omitempty"`

	// Detail is a small, action-specific object (avoid document content).
	Detail map[string]any `json:"detail,omitempty"`
}

type Options struct {
	Logger *slog.Logger
	// StateDir is the sitemend state directory.
	StateDir string

	// MaxBytes limits the active file size before rotation; <= 0 uses a default.
	MaxBytes int64
	// MaxBackups keeps the latest N rotated files; <= 0 uses a default.
	MaxBackups int
}

type Log struct {
	log *slog.Logger

	dir        string
	activePath string

	maxBytes   int64
	maxBackups int

	mu sync.Mutex
}

func New(opts Options) (*Log, error) {
	stateDir := strings.TrimSpace(opts.StateDir)
	if stateDir == "" {
		return nil, errors.New("missing StateDir")
	}
	dir := filepath.Join(stateDir, "audit")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	activePath := filepath.Join(dir, "events.jsonl")
	if f, err := os.OpenFile(activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	} else {
		return nil, err
	}

	return &Log{
		log:        logger,
		dir:        dir,
		activePath: activePath,
		maxBytes:   maxBytes,
		maxBackups: maxBackups,
	}, nil
}

// Append writes one entry. Failures are logged and swallowed: the audit
// trail never blocks the pipeline.
func (l *Log) Append(e Entry) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if strings.TrimSpace(e.CreatedAt) == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if strings.TrimSpace(e.Status) == "" {
		e.Status = "success"
	}

	f, err := os.OpenFile(l.activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		l.log.Warn("auditlog append failed", "error", err)
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&e); err != nil {
		l.log.Warn("auditlog encode failed", "error", err)
		return
	}

	l.maybeRotateLocked()
}

// List returns up to limit entries, newest first, spanning rotated files.
func (l *Log) List(limit int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	l.mu.Lock()
	files := l.listFilesLocked()
	l.mu.Unlock()

	out := make([]Entry, 0, limit)
	for _, path := range files {
		if len(out) >= limit {
			break
		}
		entries, err := readNewestFirst(path, limit-len(out))
		if err != nil {
			l.log.Warn("auditlog read failed", "path", path, "error", err)
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (l *Log) listFilesLocked() []string {
	paths := []string{l.activePath}

	ents, err := os.ReadDir(l.dir)
	if err != nil {
		return paths
	}
	var rotated []string
	for _, ent := range ents {
		if ent == nil || ent.IsDir() {
			continue
		}
		name := ent.Name()
		// events-<unix_ms>.jsonl
		if !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		rotated = append(rotated, filepath.Join(l.dir, name))
	}
	// UnixMilli names sort lexicographically in time order.
	sort.Sort(sort.Reverse(sort.StringSlice(rotated)))
	return append(paths, rotated...)
}

func (l *Log) maybeRotateLocked() {
	st, err := os.Stat(l.activePath)
	if err != nil || st.Size() <= l.maxBytes {
		return
	}

	dst := filepath.Join(l.dir, fmt.Sprintf("events-%d.jsonl", time.Now().UnixMilli()))
	if err := os.Rename(l.activePath, dst); err != nil {
		l.log.Warn("auditlog rotate failed", "error", err)
		return
	}
	if f, err := os.OpenFile(l.activePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	}

	ents, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	var rotated []string
	for _, ent := range ents {
		if ent == nil || ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl") {
			rotated = append(rotated, name)
		}
	}
	sort.Strings(rotated)
	if len(rotated) <= l.maxBackups {
		return
	}
	for _, name := range rotated[:len(rotated)-l.maxBackups] {
		_ = os.Remove(filepath.Join(l.dir, name))
	}
}

func readNewestFirst(path string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var entries []Entry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
