// Package pipeline is the orchestrator: it drives one edit submission
// through index load, intent classification, context selection, diff
// generation, validation, and the ledger, and owns every conversion from
// internal typed failures to the caller-visible result shape.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sitemend/sitemend/internal/apperr"
	"github.com/sitemend/sitemend/internal/auditlog"
	"github.com/sitemend/sitemend/internal/docindex"
	"github.com/sitemend/sitemend/internal/editgen"
	"github.com/sitemend/sitemend/internal/intent"
	"github.com/sitemend/sitemend/internal/ledger"
	"github.com/sitemend/sitemend/internal/patch"
	"github.com/sitemend/sitemend/internal/selector"
	"github.com/sitemend/sitemend/internal/validate"
)

type SubmitRequest struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Prompt    string `json:"prompt"`

	// HTML is required only when the project has no index yet.
	HTML string `json:"html,omitempty"`

	// AssetURLs maps asset names to already-uploaded public URLs.
	AssetURLs map[string]string `json:"asset_urls,omitempty"`
}

type SubmitResult struct {
	Success            bool             `json:"success"`
	NeedsClarification bool             `json:"needs_clarification,omitempty"`
	EditID             string           `json:"edit_id,omitempty"`
	Diff               string           `json:"diff,omitempty"`
	Summary            string           `json:"summary,omitempty"`
	Intent             *intent.Intent   `json:"intent,omitempty"`
	Validation         *validate.Report `json:"validation,omitempty"`
	RetryCount         int              `json:"retry_count"`
	Error              string           `json:"error,omitempty"`
}

type Options struct {
	Logger     *slog.Logger
	Indexes    *docindex.Store
	Ledger     *ledger.Store
	Classifier *intent.Classifier
	Generator  *editgen.Generator

	// Audit is optional; a nil audit log disables the trail.
	Audit *auditlog.Log
}

type Service struct {
	log        *slog.Logger
	indexes    *docindex.Store
	ledger     *ledger.Store
	classifier *intent.Classifier
	generator  *editgen.Generator
	audit      *auditlog.Log

	// locks serializes submissions per project. Concurrent edits to one
	// project would both read the same index and produce conflicting
	// diffs; the lock trades throughput for a coherent history.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(opts Options) (*Service, error) {
	if opts.Indexes == nil || opts.Ledger == nil || opts.Classifier == nil || opts.Generator == nil {
		return nil, fmt.Errorf("pipeline requires indexes, ledger, classifier, and generator")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:        log,
		indexes:    opts.Indexes,
		ledger:     opts.Ledger,
		classifier: opts.Classifier,
		generator:  opts.Generator,
		audit:      opts.Audit,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	return l
}

// SubmitEdit runs the full pipeline for one instruction. Request-level
// problems (missing fields, no index, no sections, classification failure)
// come back as typed errors; generation and validation failures come back
// as a non-success SubmitResult so the caller sees retry counts and
// validation findings.
func (s *Service) SubmitEdit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.ProjectID == "" || req.UserID == "" || req.Prompt == "" {
		return SubmitResult{}, apperr.New(apperr.KindInvalidArgument, "projectId, userId, and prompt are required")
	}

	lock := s.projectLock(req.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	idx, err := s.indexes.LoadOrBuild(ctx, req.ProjectID, req.HTML)
	if err != nil {
		return SubmitResult{}, err
	}

	in, err := s.classifier.Classify(ctx, req.Prompt)
	if err != nil {
		s.recordFailure(ctx, req, err, ledger.Edit{}, 0, 0)
		return SubmitResult{}, err
	}

	if in.NeedsClarification {
		// Terminal but not a failure: nothing is written anywhere.
		return SubmitResult{
			Success:            false,
			NeedsClarification: true,
			Intent:             &in,
			Error:              "the instruction needs more information before an edit can be generated",
		}, nil
	}

	sel := selector.Select(in, *idx)
	if len(sel.Components) == 0 {
		err := apperr.Newf(apperr.KindNotFound, "project %s has no indexed sections to edit", req.ProjectID)
		s.recordFailure(ctx, req, err, ledger.Edit{}, 0, 0)
		return SubmitResult{}, err
	}

	res := s.generator.Generate(ctx, in, sel, idx.Document, req.Prompt, req.AssetURLs)
	if !res.Success {
		s.recordFailure(ctx, req, apperr.New(apperr.Kind(res.ErrorKind), res.Error), ledger.Edit{
			Intent:     in,
			Status:     ledger.StatusFailed,
			RetryCount: res.RetryCount,
			TokenCount: res.TokenCount,
			Cost:       res.Cost,
			LatencyMS:  res.LatencyMS,
			Error:      res.Error,
		}, res.Cost, res.LatencyMS)
		return SubmitResult{
			Success:    false,
			Intent:     &in,
			RetryCount: res.RetryCount,
			Error:      res.Error,
		}, nil
	}

	report := validate.Validate(res.Patched)
	if !report.Valid {
		msg := validationMessage(report)
		s.recordFailure(ctx, req, apperr.New(apperr.KindValidation, msg), ledger.Edit{
			Intent:     in,
			Diff:       res.Diff,
			Summary:    res.Summary,
			Status:     ledger.StatusFailed,
			RetryCount: res.RetryCount,
			TokenCount: res.TokenCount,
			Cost:       res.Cost,
			LatencyMS:  res.LatencyMS,
			Error:      msg,
		}, res.Cost, res.LatencyMS)
		return SubmitResult{
			Success:    false,
			Intent:     &in,
			Validation: &report,
			RetryCount: res.RetryCount,
			Error:      msg,
		}, nil
	}

	editID, err := s.ledger.SaveEdit(ctx, ledger.Edit{
		ProjectID:      req.ProjectID,
		UserID:         req.UserID,
		Intent:         in,
		OriginalPrompt: req.Prompt,
		Diff:           res.Diff,
		Summary:        res.Summary,
		Status:         ledger.StatusPending,
		RetryCount:     res.RetryCount,
		TokenCount:     res.TokenCount,
		Cost:           res.Cost,
		LatencyMS:      res.LatencyMS,
	})
	if err != nil {
		return SubmitResult{}, apperr.Wrap(apperr.KindInternal, "persisting edit failed", err)
	}
	if err := s.ledger.UpdateMetrics(ctx, true, res.Cost, res.LatencyMS); err != nil {
		s.log.Warn("metrics update failed", "project_id", req.ProjectID, "error", err)
	}
	s.audit.Append(auditlog.Entry{
		Action:    auditlog.ActionEditSubmitted,
		Status:    "success",
		ProjectID: req.ProjectID,
		UserID:    req.UserID,
		EditID:    editID,
		Detail:    map[string]any{"summary": res.Summary, "retry_count": res.RetryCount},
	})
	s.log.Info("edit generated",
		"project_id", req.ProjectID,
		"edit_id", editID,
		"intent", string(in.Type),
		"retries", res.RetryCount,
		"latency_ms", res.LatencyMS,
	)

	return SubmitResult{
		Success:    true,
		EditID:     editID,
		Diff:       res.Diff,
		Summary:    res.Summary,
		Intent:     &in,
		Validation: &report,
		RetryCount: res.RetryCount,
	}, nil
}

// recordFailure writes the ErrorLog entry, the ledger Edit row when one is
// warranted (edit.Status set), and the metrics update for a terminal
// pipeline failure. Failures here are logged, not propagated: the original
// error is what the caller needs to see.
func (s *Service) recordFailure(ctx context.Context, req SubmitRequest, cause error, edit ledger.Edit, cost float64, latencyMS int64) {
	if _, err := s.ledger.LogError(ctx, ledger.ErrorLog{
		ProjectID:      req.ProjectID,
		UserID:         req.UserID,
		ErrorType:      string(apperr.KindOf(cause)),
		ErrorMessage:   cause.Error(),
		OriginalPrompt: req.Prompt,
	}); err != nil {
		s.log.Warn("error log write failed", "project_id", req.ProjectID, "error", err)
	}

	if edit.Status != "" {
		edit.ProjectID = req.ProjectID
		edit.UserID = req.UserID
		edit.OriginalPrompt = req.Prompt
		if _, err := s.ledger.SaveEdit(ctx, edit); err != nil {
			s.log.Warn("failed edit row write failed", "project_id", req.ProjectID, "error", err)
		}
	}

	if err := s.ledger.UpdateMetrics(ctx, false, cost, latencyMS); err != nil {
		s.log.Warn("metrics update failed", "project_id", req.ProjectID, "error", err)
	}

	s.audit.Append(auditlog.Entry{
		Action:    auditlog.ActionEditSubmitted,
		Status:    "failure",
		ProjectID: req.ProjectID,
		UserID:    req.UserID,
		Error:     cause.Error(),
	})
	s.log.Warn("edit pipeline failed",
		"project_id", req.ProjectID,
		"kind", string(apperr.KindOf(cause)),
		"error", cause.Error(),
	)
}

func validationMessage(r validate.Report) string {
	msgs := make([]string, 0, len(r.Errors))
	for _, f := range r.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.Category, f.Message))
	}
	return "generated document failed validation: " + strings.Join(msgs, "; ")
}

// ApplyEdit transitions a pending edit to applied and persists the patched
// document so later submissions edit the updated content.
func (s *Service) ApplyEdit(ctx context.Context, projectID string, editID string) error {
	projectID = strings.TrimSpace(projectID)
	editID = strings.TrimSpace(editID)
	if projectID == "" || editID == "" {
		return apperr.New(apperr.KindInvalidArgument, "projectId and editId are required")
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	edit, err := s.ledger.GetEdit(ctx, projectID, editID)
	if err != nil {
		return err
	}
	if edit.Status != ledger.StatusPending {
		return apperr.Newf(apperr.KindConflict, "edit %s is %s, only pending edits can be applied", editID, edit.Status)
	}

	idx, err := s.indexes.Load(ctx, projectID)
	if err != nil {
		return err
	}
	if idx == nil {
		return apperr.Newf(apperr.KindNotFound, "no index for project %s", projectID)
	}

	// The document may have moved since the edit was generated; the hunk
	// matcher tolerates drift, and a clean mismatch surfaces as a patch
	// failure the caller must resolve by resubmitting.
	patched, err := patch.Apply(idx.Document, edit.Diff)
	if err != nil {
		return err
	}

	if err := s.ledger.UpdateStatus(ctx, projectID, editID, ledger.StatusApplied); err != nil {
		return err
	}
	if _, err := s.indexes.Rebuild(ctx, projectID, patched); err != nil {
		return apperr.Wrap(apperr.KindInternal, "persisting applied document failed", err)
	}

	s.audit.Append(auditlog.Entry{
		Action:    auditlog.ActionEditApplied,
		Status:    "success",
		ProjectID: projectID,
		EditID:    editID,
	})
	s.log.Info("edit applied", "project_id", projectID, "edit_id", editID)
	return nil
}

// RevertEdit discards a pending edit. The document is untouched: a pending
// edit was never persisted, so reverting is purely a ledger transition.
func (s *Service) RevertEdit(ctx context.Context, projectID string, editID string) error {
	projectID = strings.TrimSpace(projectID)
	editID = strings.TrimSpace(editID)
	if projectID == "" || editID == "" {
		return apperr.New(apperr.KindInvalidArgument, "projectId and editId are required")
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ledger.UpdateStatus(ctx, projectID, editID, ledger.StatusReverted); err != nil {
		return err
	}

	s.audit.Append(auditlog.Entry{
		Action:    auditlog.ActionEditReverted,
		Status:    "success",
		ProjectID: projectID,
		EditID:    editID,
	})
	s.log.Info("edit reverted", "project_id", projectID, "edit_id", editID)
	return nil
}

// History returns the project's edits newest-first.
func (s *Service) History(ctx context.Context, projectID string, limit int) ([]ledger.Edit, error) {
	return s.ledger.History(ctx, projectID, limit)
}

// Reindex rebuilds the project index from html unconditionally.
func (s *Service) Reindex(ctx context.Context, projectID string, html string) (*docindex.Index, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" || strings.TrimSpace(html) == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "projectId and html are required")
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	idx, err := s.indexes.Rebuild(ctx, projectID, html)
	if err != nil {
		return nil, err
	}
	s.audit.Append(auditlog.Entry{
		Action:    auditlog.ActionProjectReindexed,
		Status:    "success",
		ProjectID: projectID,
		Detail:    map[string]any{"sections": idx.SectionNames(), "style_system": idx.StyleSystem},
	})
	return idx, nil
}

// Metrics returns the deployment-wide aggregate counters.
func (s *Service) Metrics(ctx context.Context) (ledger.Metrics, error) {
	return s.ledger.Metrics(ctx)
}

// ErrorLogs returns unresolved pipeline errors, newest first.
func (s *Service) ErrorLogs(ctx context.Context, limit int) ([]ledger.ErrorLog, error) {
	return s.ledger.ErrorLogs(ctx, limit)
}
