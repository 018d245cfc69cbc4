package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/sitemend/sitemend/internal/apperr"
	"github.com/sitemend/sitemend/internal/genai"
)

type fakeClient struct {
	resp genai.Response
	err  error

	lastReq genai.Request
}

func (f *fakeClient) Complete(_ context.Context, req genai.Request) (genai.Response, error) {
	f.lastReq = req
	return f.resp, f.err
}

func TestClassify_ParsesWrappedJSON(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{resp: genai.Response{Text: "Sure, here is the classification:\n```json\n" +
		`{"intent_type":"update_styles","target":"hero section","requires_asset":false,"asset_type":null,"style_system":"tailwind","scope":"component","risk":"low","needs_clarification":false}` +
		"\n```"}}
	c := NewClassifier(fc, "claude-sonnet-4-5")

	got, err := c.Classify(context.Background(), "make the hero background darker")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Type != TypeUpdateStyles || got.Target != "hero section" || got.NeedsClarification {
		t.Fatalf("intent=%+v", got)
	}
	if fc.lastReq.Temperature == nil || *fc.lastReq.Temperature != 0 {
		t.Fatalf("temperature=%v, want 0", fc.lastReq.Temperature)
	}
}

func TestClassify_MissingRequiredKeysFails(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{resp: genai.Response{Text: `{"target":"nav"}`}}
	c := NewClassifier(fc, "m")

	_, err := c.Classify(context.Background(), "change the nav")
	if !apperr.IsKind(err, apperr.KindClassification) {
		t.Fatalf("err=%v, want classification failure", err)
	}
}

func TestClassify_NoJSONFails(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{resp: genai.Response{Text: "I cannot classify that."}}
	c := NewClassifier(fc, "m")

	_, err := c.Classify(context.Background(), "change the nav")
	if !apperr.IsKind(err, apperr.KindClassification) {
		t.Fatalf("err=%v, want classification failure", err)
	}
}

func TestClassify_ServiceErrorPropagates(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{err: errors.New("connection refused")}
	c := NewClassifier(fc, "m")

	_, err := c.Classify(context.Background(), "change the nav")
	if !apperr.IsKind(err, apperr.KindClassification) {
		t.Fatalf("err=%v, want classification failure", err)
	}
}

func TestClassify_NormalizesUnknownEnums(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{resp: genai.Response{Text: `{"intent_type":"repaint_everything","scope":"universe","risk":"extreme","style_system":"sass","needs_clarification":false}`}}
	c := NewClassifier(fc, "m")

	got, err := c.Classify(context.Background(), "repaint")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Type != TypeContentEdit || got.Scope != ScopeComponent || got.Risk != RiskMedium || got.StyleSystem != "unknown" {
		t.Fatalf("intent=%+v", got)
	}
}

func TestClassify_EmptyPromptIsInvalid(t *testing.T) {
	t.Parallel()

	c := NewClassifier(&fakeClient{}, "m")
	_, err := c.Classify(context.Background(), "   ")
	if !apperr.IsInvalidArgument(err) {
		t.Fatalf("err=%v, want invalid argument", err)
	}
}

func TestFirstJSONBlock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"nested", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`, true},
		{"brace in string", `{"a":"}"}`, `{"a":"}"}`, true},
		{"escaped quote", `{"a":"\"}"}`, `{"a":"\"}"}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"none", `no json here`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := firstJSONBlock(tc.text)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("firstJSONBlock(%q) = %q, %v; want %q, %v", tc.text, got, ok, tc.want, tc.ok)
			}
		})
	}
}
