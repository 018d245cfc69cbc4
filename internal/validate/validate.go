// Package validate runs independent structural, security, and accessibility
// checks against a candidate HTML document.
//
// The syntax check is a heuristic tag-balance count, not a parser. It can
// over- and under-report on unusual nesting or self-closing edge cases; that
// trade-off is intentional and mirrored by the section extractor in docindex.
package validate

import (
	"regexp"
	"strings"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

type Category string

const (
	CategorySyntax        Category = "syntax"
	CategorySecurity      Category = "security"
	CategoryAccessibility Category = "accessibility"
	CategoryStyle         Category = "style"
)

type Finding struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

type Report struct {
	Valid    bool      `json:"valid"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

// tagBalanceTolerance absorbs the noise the heuristic counter produces on
// legal documents (unclosed <li>, <p> auto-closing, etc).
const tagBalanceTolerance = 2

// voidElements never take a closing tag and are excluded from the balance count.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

var (
	openTagRE     = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9-]*)(?:\s[^>]*?)?(/?)>`)
	closeTagRE    = regexp.MustCompile(`</([a-zA-Z][a-zA-Z0-9-]*)\s*>`)
	scriptTagRE   = regexp.MustCompile(`(?i)<script\b`)
	eventAttrRE   = regexp.MustCompile(`(?i)\son[a-z]+\s*=`)
	jsURLRE       = regexp.MustCompile(`(?i)javascript:`)
	imgTagRE      = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	altAttrRE     = regexp.MustCompile(`(?i)\balt\s*=`)
	buttonRE      = regexp.MustCompile(`(?is)<button\b([^>]*)>(.*?)</button>`)
	ariaLabelRE   = regexp.MustCompile(`(?i)\baria-label\s*=`)
	innerTagRE    = regexp.MustCompile(`(?s)<[^>]*>`)
	inlineStyleRE = regexp.MustCompile(`(?i)\sstyle\s*=`)
)

// Validate runs all four checks and concatenates their findings. It never
// short-circuits so a single pass reports everything that applies.
func Validate(document string) Report {
	var errs, warns []Finding

	errs = append(errs, checkSyntax(document)...)
	errs = append(errs, checkSecurity(document)...)
	errs = append(errs, checkAccessibility(document)...)
	warns = append(warns, checkStyle(document)...)

	return Report{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Warnings: warns,
	}
}

func checkSyntax(document string) []Finding {
	opens := 0
	for _, m := range openTagRE.FindAllStringSubmatch(document, -1) {
		name := strings.ToLower(m[1])
		if voidElements[name] {
			continue
		}
		if m[2] == "/" { // self-closing
			continue
		}
		opens++
	}
	closes := len(closeTagRE.FindAllString(document, -1))

	diff := opens - closes
	if diff < 0 {
		diff = -diff
	}
	if diff <= tagBalanceTolerance {
		return nil
	}
	return []Finding{{
		Severity: SeverityCritical,
		Category: CategorySyntax,
		Message:  "unbalanced HTML tags: opening and closing tag counts diverge",
	}}
}

func checkSecurity(document string) []Finding {
	var out []Finding
	if scriptTagRE.MatchString(document) {
		out = append(out, Finding{SeverityCritical, CategorySecurity, "document contains a <script> tag"})
	}
	if eventAttrRE.MatchString(document) {
		out = append(out, Finding{SeverityCritical, CategorySecurity, "document contains an inline event handler attribute"})
	}
	if jsURLRE.MatchString(document) {
		out = append(out, Finding{SeverityCritical, CategorySecurity, "document contains a javascript: URL"})
	}
	return out
}

func checkAccessibility(document string) []Finding {
	var out []Finding
	for _, img := range imgTagRE.FindAllString(document, -1) {
		if !altAttrRE.MatchString(img) {
			out = append(out, Finding{SeverityError, CategoryAccessibility, "image is missing an alt attribute"})
		}
	}
	for _, m := range buttonRE.FindAllStringSubmatch(document, -1) {
		attrs, inner := m[1], m[2]
		text := strings.TrimSpace(innerTagRE.ReplaceAllString(inner, ""))
		if text == "" && !ariaLabelRE.MatchString(attrs) {
			out = append(out, Finding{SeverityError, CategoryAccessibility, "button has no visible text and no aria-label"})
		}
	}
	return out
}

func checkStyle(document string) []Finding {
	if !inlineStyleRE.MatchString(document) {
		return nil
	}
	return []Finding{{
		Severity: SeverityWarning,
		Category: CategoryStyle,
		Message:  "inline style attribute found; prefer utility classes",
	}}
}
