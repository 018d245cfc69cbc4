// Package selector maps a classified intent onto the minimal set of indexed
// sections to expose to generation, plus the edit constraints for the prompt.
//
// Select is a pure function: identical (intent, index) inputs always produce
// an identical Context, byte for byte. Rule order and the sorted fallback
// enumeration are what make that hold.
package selector

import (
	"sort"
	"strings"

	"github.com/sitemend/sitemend/internal/docindex"
	"github.com/sitemend/sitemend/internal/intent"
)

// Constraint tokens embedded into the generation prompt.
const (
	ConstraintPreserveExports = "preserve_exports"
	ConstraintKeepLayout      = "do_not_change_layout_structure"
	ConstraintTailwindOnly    = "tailwind_only"
	ConstraintNoInlineStyles  = "no_inline_styles"
	ConstraintMinimalChanges  = "make_minimal_changes"
)

type Context struct {
	Components  []docindex.Section `json:"components"`
	Constraints []string           `json:"constraints"`
}

// keywordRules is the fixed ordered rule set. A rule fires when the intent's
// lower-cased target contains any keyword, or — for rules with intentTypes —
// when the intent type contains one of those fragments.
var keywordRules = []struct {
	section     string
	keywords    []string
	intentTypes []string
}{
	{section: "Navbar", keywords: []string{"nav", "header", "menu"}, intentTypes: []string{"logo"}},
	{section: "Hero", keywords: []string{"hero", "banner", "headline"}},
	{section: "Footer", keywords: []string{"footer", "bottom"}},
	{section: "Head", keywords: []string{"head", "meta", "title", "seo"}},
	{section: "Main", keywords: []string{"main", "body", "content"}},
}

// Select picks the sections implied by the intent. When no rule fires it
// falls back to every indexed section — a documented risk that widens the
// blast radius rather than refusing the edit.
func Select(in intent.Intent, idx docindex.Index) Context {
	target := strings.ToLower(strings.TrimSpace(in.Target))
	intentType := strings.ToLower(string(in.Type))

	var components []docindex.Section
	seen := map[string]bool{}
	add := func(name string) {
		if seen[name] {
			return
		}
		if sec, ok := idx.Sections[name]; ok {
			components = append(components, sec)
			seen[name] = true
		}
	}

	for _, rule := range keywordRules {
		matched := false
		for _, kw := range rule.keywords {
			if target != "" && strings.Contains(target, kw) {
				matched = true
				break
			}
		}
		if !matched {
			for _, frag := range rule.intentTypes {
				if strings.Contains(intentType, frag) {
					matched = true
					break
				}
			}
		}
		if matched {
			add(rule.section)
		}
	}

	if len(components) == 0 {
		names := make([]string, 0, len(idx.Sections))
		for name := range idx.Sections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			components = append(components, idx.Sections[name])
		}
	}

	constraints := []string{ConstraintPreserveExports, ConstraintKeepLayout}
	if idx.StyleSystem == docindex.StyleTailwind {
		constraints = append(constraints, ConstraintTailwindOnly, ConstraintNoInlineStyles)
	}
	if in.Risk == intent.RiskHigh {
		constraints = append(constraints, ConstraintMinimalChanges)
	}

	return Context{Components: components, Constraints: constraints}
}
