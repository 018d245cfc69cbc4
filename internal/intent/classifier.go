package intent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sitemend/sitemend/internal/apperr"
	"github.com/sitemend/sitemend/internal/genai"
)

const classifySystemPrompt = `You classify website edit instructions. Respond with a single JSON object and nothing else. The object must have exactly these keys:

{
  "intent_type": "add_logo" | "replace_logo" | "update_styles" | "update_layout" | "add_section" | "content_edit" | "fix_bug",
  "target": string | null,
  "requires_asset": boolean,
  "asset_type": "logo" | "image" | "icon" | null,
  "style_system": "tailwind" | "css" | "unknown",
  "scope": "component" | "page" | "global",
  "risk": "low" | "medium" | "high",
  "needs_clarification": boolean
}

Set needs_clarification to true when the instruction is too vague to act on. Do not add extra keys.`

type Classifier struct {
	client genai.Client
	model  string
}

func NewClassifier(client genai.Client, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify runs a single classification call. It performs no retries; any
// failure propagates for the orchestrator to map to a client-visible error.
func (c *Classifier) Classify(ctx context.Context, prompt string) (Intent, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Intent{}, apperr.New(apperr.KindInvalidArgument, "empty instruction")
	}

	temp := 0.0
	resp, err := c.client.Complete(ctx, genai.Request{
		Model:       c.model,
		System:      classifySystemPrompt,
		Prompt:      prompt,
		MaxTokens:   512,
		Temperature: &temp,
	})
	if err != nil {
		return Intent{}, apperr.Wrap(apperr.KindClassification, "classification call failed", err)
	}

	block, ok := firstJSONBlock(resp.Text)
	if !ok {
		return Intent{}, apperr.New(apperr.KindClassification, "classification response contains no JSON object")
	}

	// Missing intent_type or needs_clarification is fatal; other fields are
	// normalized to safe defaults.
	var raw struct {
		IntentType         *string `json:"intent_type"`
		Target             string  `json:"target"`
		RequiresAsset      bool    `json:"requires_asset"`
		AssetType          string  `json:"asset_type"`
		StyleSystem        string  `json:"style_system"`
		Scope              string  `json:"scope"`
		Risk               string  `json:"risk"`
		NeedsClarification *bool   `json:"needs_clarification"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return Intent{}, apperr.Wrap(apperr.KindClassification, "malformed classification JSON", err)
	}
	if raw.IntentType == nil || raw.NeedsClarification == nil {
		return Intent{}, apperr.New(apperr.KindClassification, "classification JSON missing intent_type or needs_clarification")
	}

	in := Intent{
		Type:               Type(strings.TrimSpace(*raw.IntentType)),
		Target:             raw.Target,
		RequiresAsset:      raw.RequiresAsset,
		AssetType:          strings.TrimSpace(raw.AssetType),
		StyleSystem:        strings.TrimSpace(raw.StyleSystem),
		Scope:              strings.TrimSpace(raw.Scope),
		Risk:               strings.TrimSpace(raw.Risk),
		NeedsClarification: *raw.NeedsClarification,
	}
	return in.normalize(), nil
}

// firstJSONBlock returns the first balanced {...} block in text. The model
// may wrap its JSON in commentary or code fences; everything outside the
// braces is ignored. Brace depth is tracked outside string literals only.
func firstJSONBlock(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
