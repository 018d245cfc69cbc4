package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sitemend/sitemend/internal/docindex"
	"github.com/sitemend/sitemend/internal/editgen"
	"github.com/sitemend/sitemend/internal/genai"
	"github.com/sitemend/sitemend/internal/intent"
	"github.com/sitemend/sitemend/internal/ledger"
	"github.com/sitemend/sitemend/internal/pipeline"
)

const testDoc = `<nav class="px-4 bg-white">Acme</nav>`

const testDiff = `@@ -1,1 +1,1 @@
-<nav class="px-4 bg-white">Acme</nav>
+<nav class="px-4 bg-slate-900">Acme</nav>`

const testIntentJSON = `{
  "intent_type": "update_styles",
  "target": "navbar",
  "requires_asset": false,
  "asset_type": "",
  "style_system": "tailwind",
  "scope": "component",
  "risk": "low",
  "needs_clarification": false
}`

type stubClient struct{ text string }

func (c *stubClient) Complete(_ context.Context, _ genai.Request) (genai.Response, error) {
	return genai.Response{Text: c.text}, nil
}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	dir := t.TempDir()

	indexes, err := docindex.Open(filepath.Join(dir, "indexes.db"))
	if err != nil {
		t.Fatalf("docindex.Open: %v", err)
	}
	t.Cleanup(func() { _ = indexes.Close() })

	led, err := ledger.Open(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { _ = led.Close() })

	svc, err := pipeline.New(pipeline.Options{
		Indexes:    indexes,
		Ledger:     led,
		Classifier: intent.NewClassifier(&stubClient{text: testIntentJSON}, "m"),
		Generator:  editgen.New(&stubClient{text: testDiff}, editgen.Options{Model: "m", BaseDelay: time.Millisecond}),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return NewRouter(svc, slog.New(slog.DiscardHandler))
}

func doJSON(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func submitBody() string {
	b, _ := json.Marshal(map[string]any{
		"userId": "user-1",
		"prompt": "darken the navbar",
		"html":   testDoc,
	})
	return string(b)
}

func TestSubmitEditEndpoint(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/projects/proj-1/edits", submitBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}

	var res pipeline.SubmitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.EditID == "" || !strings.Contains(res.Diff, "@@") {
		t.Fatalf("result=%+v", res)
	}
}

func TestSubmitEditValidatesBody(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/projects/proj-1/edits", `{"userId":"u"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/projects/proj-1/edits", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestSubmitEditUnknownProjectIs404(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	body := `{"userId":"user-1","prompt":"darken nav"}`
	rec := doJSON(t, r, http.MethodPost, "/api/projects/ghost/edits", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s, want 404", rec.Code, rec.Body.String())
	}
}

func TestApplyAndRevertEndpoints(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/projects/proj-1/edits", submitBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status=%d", rec.Code)
	}
	var res pipeline.SubmitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/projects/proj-1/edits/"+res.EditID+"/apply", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("apply status=%d body=%s", rec.Code, rec.Body.String())
	}

	// A second apply conflicts.
	rec = doJSON(t, r, http.MethodPost, "/api/projects/proj-1/edits/"+res.EditID+"/apply", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second apply status=%d, want 409", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/projects/proj-1/edits/missing/revert", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("revert missing status=%d, want 404", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	if rec := doJSON(t, r, http.MethodPost, "/api/projects/proj-1/edits", submitBody()); rec.Code != http.StatusOK {
		t.Fatalf("submit status=%d", rec.Code)
	}

	rec := doJSON(t, r, http.MethodGet, "/api/projects/proj-1/edits?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		Success bool          `json:"success"`
		Edits   []ledger.Edit `json:"edits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || len(body.Edits) != 1 {
		t.Fatalf("body=%+v", body)
	}
}

func TestReindexEndpoint(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/projects/proj-1/reindex", `{"html":"<nav>x</nav>"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Navbar") {
		t.Fatalf("body=%s, want extracted sections", rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPost, "/api/projects/proj-1/reindex", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "total_edits") {
		t.Fatalf("body=%s", rec.Body.String())
	}
}
