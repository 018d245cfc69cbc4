// Package docindex extracts and caches named sections from a project's HTML
// document.
//
// Section extraction is intentionally pattern-based: one regular expression
// per named section, first match wins, no nesting awareness. The section set
// is a best-effort subset of the document — absence of a section never means
// the document lacks one, and an empty section map is a valid index.
package docindex

import (
	"regexp"
	"strings"
	"time"
)

const (
	StyleTailwind = "tailwind"
	StyleCSS      = "css"
	StyleUnknown  = "unknown"
)

type Section struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type Index struct {
	ProjectID     string             `json:"project_id"`
	Document      string             `json:"document"`
	Sections      map[string]Section `json:"sections"`
	StyleSystem   string             `json:"style_system"`
	LastIndexedAt time.Time          `json:"last_indexed_at"`
}

// sectionPatterns is the fixed set of named extraction patterns. Non-greedy
// matches stop at the first closing tag, so nested same-name elements
// truncate the captured content. That is an accepted limitation.
var sectionPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"Navbar", regexp.MustCompile(`(?is)<nav\b[^>]*>.*?</nav>`)},
	{"Hero", regexp.MustCompile(`(?is)<(?:section|div)\b[^>]*class\s*=\s*"[^"]*hero[^"]*"[^>]*>.*?</(?:section|div)>`)},
	{"Footer", regexp.MustCompile(`(?is)<footer\b[^>]*>.*?</footer>`)},
	{"Head", regexp.MustCompile(`(?is)<head\b[^>]*>.*?</head>`)},
	{"Main", regexp.MustCompile(`(?is)<main\b[^>]*>.*?</main>`)},
}

// tailwindMarkers are class-name fragments that signal utility-class styling.
var tailwindMarkers = []string{"px-", "py-", "bg-", "text-", "flex ", "grid "}

// Build scans document once per pattern and keeps only the matches found.
func Build(projectID string, document string) Index {
	sections := make(map[string]Section)
	for _, p := range sectionPatterns {
		if m := p.re.FindString(document); m != "" {
			sections[p.name] = Section{Name: p.name, Content: m}
		}
	}
	return Index{
		ProjectID:     strings.TrimSpace(projectID),
		Document:      document,
		Sections:      sections,
		StyleSystem:   detectStyleSystem(document),
		LastIndexedAt: time.Now().UTC(),
	}
}

var classAttrRE = regexp.MustCompile(`class\s*=\s*"([^"]*)"`)

// detectStyleSystem is a coarse substring heuristic, not a real analysis.
func detectStyleSystem(document string) string {
	if strings.Contains(document, "tailwind") {
		return StyleTailwind
	}
	for _, m := range classAttrRE.FindAllStringSubmatch(document, -1) {
		for _, marker := range tailwindMarkers {
			if strings.Contains(m[1], marker) {
				return StyleTailwind
			}
		}
	}
	if strings.Contains(document, "class=") {
		return StyleCSS
	}
	return StyleUnknown
}

// SectionNames returns the indexed section names in pattern order. Useful for
// deterministic iteration and error messages.
func (idx Index) SectionNames() []string {
	names := make([]string, 0, len(idx.Sections))
	for _, p := range sectionPatterns {
		if _, ok := idx.Sections[p.name]; ok {
			names = append(names, p.name)
		}
	}
	return names
}
