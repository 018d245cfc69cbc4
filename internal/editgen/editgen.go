// Package editgen produces a single scoped unified diff for an edit request
// by prompting the generation service, with bounded retries around transient
// failures and malformed output.
package editgen

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sitemend/sitemend/internal/apperr"
	"github.com/sitemend/sitemend/internal/genai"
	"github.com/sitemend/sitemend/internal/intent"
	"github.com/sitemend/sitemend/internal/patch"
	"github.com/sitemend/sitemend/internal/selector"
)

const generateSystemPrompt = `You are a surgical website editor. You receive named HTML sections and an instruction. Respond with a unified diff ONLY — no commentary, no code fences.

Rules:
- Touch ONLY the sections provided. Never invent content outside them.
- Preserve all exports, ids, and element signatures unless the instruction requires otherwise.
- Keep accessibility intact: images keep alt text, interactive controls keep aria-labels, inputs keep labels.
- The diff must use @@ hunk headers with -/+ line prefixes against the full document line numbers where known, or least-surprising offsets otherwise.`

const (
	// maxRetries is the number of re-attempts after the first failure,
	// so 3 attempts total.
	maxRetries       = 2
	defaultBaseDelay = 500 * time.Millisecond

	// charsPerToken is the coarse token estimate divisor.
	charsPerToken = 4
	// defaultCostPer1K is USD per thousand estimated tokens.
	defaultCostPer1K = 0.015
)

// Result is mutable only inside the attempt loop; once returned it is final.
type Result struct {
	Success    bool    `json:"success"`
	Diff       string  `json:"diff,omitempty"`
	Summary    string  `json:"summary,omitempty"`
	RetryCount int     `json:"retry_count"`
	TokenCount int     `json:"token_count"`
	Cost       float64 `json:"cost"`
	LatencyMS  int64   `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`

	// Patched is the full document with the diff applied.
	Patched string `json:"-"`
	// ErrorKind is the failure taxonomy kind when Success is false.
	ErrorKind string `json:"-"`
}

type Options struct {
	Model     string
	MaxTokens int
	// BaseDelay is the linear backoff unit between attempts (attempt × BaseDelay).
	BaseDelay time.Duration
	CostPer1K float64
}

type Generator struct {
	client genai.Client
	opts   Options
}

func New(client genai.Client, opts Options) *Generator {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.CostPer1K <= 0 {
		opts.CostPer1K = defaultCostPer1K
	}
	return &Generator{client: client, opts: opts}
}

// Generate never returns an error: terminal failures come back as a Result
// with Success=false, Error, and ErrorKind populated, carrying the retry
// count. A diff that does not cleanly apply to document spends the same
// retry budget as a failed service call.
func (g *Generator) Generate(ctx context.Context, in intent.Intent, sel selector.Context, document string, originalPrompt string, assetURLs map[string]string) Result {
	started := time.Now()
	prompt := buildPrompt(in, sel, originalPrompt, assetURLs)

	var (
		lastErr error
		retries int
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			retries = attempt
			select {
			case <-time.After(time.Duration(attempt) * g.opts.BaseDelay):
			case <-ctx.Done():
				return Result{
					Success:    false,
					RetryCount: retries,
					LatencyMS:  time.Since(started).Milliseconds(),
					Error:      ctx.Err().Error(),
					ErrorKind:  string(apperr.KindGeneration),
				}
			}
		}

		resp, err := g.client.Complete(ctx, genai.Request{
			Model:     g.opts.Model,
			System:    generateSystemPrompt,
			Prompt:    prompt,
			MaxTokens: g.opts.MaxTokens,
		})
		if err != nil {
			lastErr = apperr.Wrap(apperr.KindGeneration, "generation service call failed", err)
			continue
		}

		diff := ExtractDiff(resp.Text)
		if !strings.Contains(diff, "@@") {
			// Malformed output spends the same retry budget as a thrown
			// error; a diff without hunks can never apply.
			lastErr = apperr.New(apperr.KindGeneration, "generation returned no usable diff hunks")
			continue
		}

		patched, err := patch.Apply(document, diff)
		if err != nil {
			lastErr = err
			continue
		}

		tokens := (len(prompt) + len(resp.Text)) / charsPerToken
		return Result{
			Success:    true,
			Diff:       diff,
			Summary:    summarize(in, diff),
			RetryCount: retries,
			TokenCount: tokens,
			Cost:       float64(tokens) / 1000 * g.opts.CostPer1K,
			LatencyMS:  time.Since(started).Milliseconds(),
			Patched:    patched,
		}
	}

	return Result{
		Success:    false,
		RetryCount: retries,
		LatencyMS:  time.Since(started).Milliseconds(),
		Error:      lastErr.Error(),
		ErrorKind:  string(apperr.KindOf(lastErr)),
	}
}

func buildPrompt(in intent.Intent, sel selector.Context, originalPrompt string, assetURLs map[string]string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Edit intent: %s", in.Type)
	if in.Target != "" {
		fmt.Fprintf(&b, " (target: %s)", in.Target)
	}
	b.WriteString("\n\nInstruction:\n")
	b.WriteString(strings.TrimSpace(originalPrompt))
	b.WriteString("\n\nConstraints:\n")
	for _, c := range sel.Constraints {
		fmt.Fprintf(&b, "- %s\n", c)
	}

	if len(assetURLs) > 0 {
		b.WriteString("\nAssets:\n")
		names := make([]string, 0, len(assetURLs))
		for name := range assetURLs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, assetURLs[name])
		}
	}

	b.WriteString("\nSections:\n")
	for _, sec := range sel.Components {
		fmt.Fprintf(&b, "\n=== %s ===\n%s\n", sec.Name, sec.Content)
	}
	return b.String()
}

// ExtractDiff pulls the unified diff out of a raw model response: fenced
// code markers are stripped, and when the ---/+++ file headers are absent
// the response is filtered down to diff-shaped lines only.
func ExtractDiff(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	if strings.Contains(text, "---") && strings.Contains(text, "+++") {
		return text
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "@@") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func summarize(in intent.Intent, diff string) string {
	changed := patch.ChangedLines(diff)
	target := strings.TrimSpace(in.Target)
	if target == "" {
		target = "document"
	}
	verb := strings.ReplaceAll(string(in.Type), "_", " ")
	return fmt.Sprintf("%s on %s (%d lines changed)", verb, target, changed)
}
