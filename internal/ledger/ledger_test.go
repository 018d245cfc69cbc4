package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitemend/sitemend/internal/apperr"
	"github.com/sitemend/sitemend/internal/intent"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveEditAndHistory(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.SaveEdit(ctx, Edit{
		ProjectID:      "proj-1",
		UserID:         "user-1",
		CreatedAt:      time.Now().Add(-time.Minute),
		Intent:         intent.Intent{Type: intent.TypeContentEdit, Target: "hero"},
		OriginalPrompt: "darken the hero",
		Diff:           "@@ -1 +1 @@\n-a\n+b",
		Summary:        "content edit on hero (2 lines changed)",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.SaveEdit(ctx, Edit{ProjectID: "proj-1", OriginalPrompt: "second"})
	require.NoError(t, err)

	edits, err := s.History(ctx, "proj-1", 10)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	require.Equal(t, second, edits[0].EditID, "newest first")
	require.Equal(t, first, edits[1].EditID)
	require.Equal(t, StatusPending, edits[1].Status)
	require.Equal(t, intent.TypeContentEdit, edits[1].Intent.Type)
}

func TestGetEdit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveEdit(ctx, Edit{
		ProjectID: "proj-1",
		UserID:    "user-1",
		Intent:    intent.Intent{Type: intent.TypeUpdateStyles},
		Diff:      "@@ -1 +1 @@\n-a\n+b",
	})
	require.NoError(t, err)

	e, err := s.GetEdit(ctx, "proj-1", id)
	require.NoError(t, err)
	require.Equal(t, id, e.EditID)
	require.Equal(t, intent.TypeUpdateStyles, e.Intent.Type)
	require.Equal(t, "@@ -1 +1 @@\n-a\n+b", e.Diff)

	_, err = s.GetEdit(ctx, "proj-1", "missing")
	require.True(t, apperr.IsNotFound(err))

	// Scoped: another project cannot read the edit.
	_, err = s.GetEdit(ctx, "proj-2", id)
	require.True(t, apperr.IsNotFound(err))
}

func TestHistoryScopedByProject(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SaveEdit(ctx, Edit{ProjectID: "proj-a"})
	require.NoError(t, err)
	_, err = s.SaveEdit(ctx, Edit{ProjectID: "proj-b"})
	require.NoError(t, err)

	edits, err := s.History(ctx, "proj-a", 10)
	require.NoError(t, err)
	require.Len(t, edits, 1)
}

func TestUpdateStatusLaw(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveEdit(ctx, Edit{ProjectID: "proj-1"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, "proj-1", id, StatusApplied))

	// Applied edits may not transition again.
	err = s.UpdateStatus(ctx, "proj-1", id, StatusReverted)
	require.True(t, apperr.IsKind(err, apperr.KindConflict), "err=%v", err)

	// Unknown edit is NotFound.
	err = s.UpdateStatus(ctx, "proj-1", "01JUNKJUNKJUNKJUNKJUNKJUNK", StatusApplied)
	require.True(t, apperr.IsNotFound(err), "err=%v", err)

	// Only applied/reverted are legal targets.
	id2, err := s.SaveEdit(ctx, Edit{ProjectID: "proj-1"})
	require.NoError(t, err)
	err = s.UpdateStatus(ctx, "proj-1", id2, StatusFailed)
	require.True(t, apperr.IsInvalidArgument(err), "err=%v", err)
}

func TestUpdateStatusRevert(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveEdit(ctx, Edit{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, "proj-1", id, StatusReverted))

	edits, err := s.History(ctx, "proj-1", 1)
	require.NoError(t, err)
	require.Equal(t, StatusReverted, edits[0].Status)
}

func TestErrorLogsUnresolvedNewestFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LogError(ctx, ErrorLog{ProjectID: "p", ErrorType: "generation_failure", ErrorMessage: "old", CreatedAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	_, err = s.LogError(ctx, ErrorLog{ProjectID: "p", ErrorType: "validation_failure", ErrorMessage: "new"})
	require.NoError(t, err)
	_, err = s.LogError(ctx, ErrorLog{ProjectID: "p", ErrorType: "internal", ErrorMessage: "done", Resolved: true})
	require.NoError(t, err)

	logs, err := s.ErrorLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2, "resolved entries filtered out")
	require.Equal(t, "new", logs[0].ErrorMessage)
	require.Equal(t, "old", logs[1].ErrorMessage)
}

func TestMetricsLazyInit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	m, err := s.Metrics(context.Background())
	require.NoError(t, err)
	require.Zero(t, m.TotalEdits)
	require.Zero(t, m.TotalCost)
}

func TestMetricsMonotonicity(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.UpdateMetrics(ctx, i%3 != 0, 0.01, int64(100+i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	m, err := s.Metrics(ctx)
	require.NoError(t, err)
	require.EqualValues(t, n, m.TotalEdits)
	require.EqualValues(t, n, m.SuccessfulEdits+m.FailedEdits)
	require.InDelta(t, 0.01*n, m.TotalCost, 1e-9)
	require.False(t, m.LastUpdated.IsZero())
}

func TestMetricsRunningAverage(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateMetrics(ctx, true, 0, 100))
	require.NoError(t, s.UpdateMetrics(ctx, true, 0, 300))

	m, err := s.Metrics(ctx)
	require.NoError(t, err)
	require.InDelta(t, 200, m.AvgLatencyMS, 1e-9)
}
