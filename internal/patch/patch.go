// Package patch applies a unified diff to a single in-memory document.
//
// The pipeline moves exactly one document per edit, so there is no file
// headers requirement: diffs with or without ---/+++ lines are accepted, but
// at least one @@ hunk header must be present for a diff to be well-formed.
package patch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sitemend/sitemend/internal/apperr"
)

type hunk struct {
	oldStart int
	oldCount int
	newStart int
	newCount int
	lines    []string
}

var hunkHeaderRE = regexp.MustCompile(`^@@\s+-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)

// hunkSearchWindow bounds how far a hunk may drift from its declared offset
// while still applying. Generated diffs routinely miscount line numbers.
const hunkSearchWindow = 80

// Apply applies diff to document and returns the patched text. A diff that
// does not cleanly apply (context mismatch, out-of-range offsets) fails with
// a patch-kind error carrying line detail.
func Apply(document string, diff string) (string, error) {
	hunks, err := parse(diff)
	if err != nil {
		return "", err
	}

	text := strings.ReplaceAll(document, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	hadTrailingNewline := strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	offset := 0
	for _, h := range hunks {
		preferred := h.oldStart - 1 + offset
		if preferred < 0 {
			preferred = 0
		}
		start, ok := findHunkStart(lines, h, preferred)
		if !ok {
			return "", apperr.Newf(apperr.KindPatch, "hunk failed to apply near line %d", h.oldStart)
		}
		var delta int
		lines, delta, err = applyHunk(lines, h, start)
		if err != nil {
			return "", err
		}
		offset += delta
	}

	out := strings.Join(lines, "\n")
	if hadTrailingNewline || len(lines) > 0 {
		out += "\n"
	}
	return out, nil
}

// parse extracts the hunks from a unified diff, tolerating missing file
// headers and fenced wrapping.
func parse(diff string) ([]hunk, error) {
	raw := strings.ReplaceAll(diff, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	diffLines := strings.Split(raw, "\n")

	var hunks []hunk
	var cur *hunk
	for _, line := range diffLines {
		if strings.HasPrefix(line, "@@") {
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			hunks = append(hunks, h)
			cur = &hunks[len(hunks)-1]
			continue
		}
		if cur == nil {
			// Preamble: file headers, "diff --git", commentary. Skipped.
			continue
		}
		switch {
		case line == "":
			// Bare empty lines are ambiguous (trailing split artifact vs
			// empty context); they are skipped, matching " " context lines
			// is the emitter's job.
			continue
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			// File header between hunks ends the current hunk body.
			cur = nil
		case line[0] == ' ' || line[0] == '-' || line[0] == '+' || line[0] == '\\':
			cur.lines = append(cur.lines, line)
		default:
			cur = nil
		}
	}
	if len(hunks) == 0 {
		return nil, apperr.New(apperr.KindPatch, "diff contains no @@ hunk headers")
	}
	return hunks, nil
}

func parseHunkHeader(line string) (hunk, error) {
	m := hunkHeaderRE.FindStringSubmatch(line)
	if len(m) == 0 {
		return hunk{}, apperr.Newf(apperr.KindPatch, "invalid hunk header: %q", line)
	}
	oldStart, _ := strconv.Atoi(m[1])
	oldCount := 1
	if strings.TrimSpace(m[2]) != "" {
		oldCount, _ = strconv.Atoi(m[2])
	}
	newStart, _ := strconv.Atoi(m[3])
	newCount := 1
	if strings.TrimSpace(m[4]) != "" {
		newCount, _ = strconv.Atoi(m[4])
	}
	return hunk{oldStart: oldStart, oldCount: oldCount, newStart: newStart, newCount: newCount}, nil
}

// findHunkStart locates where the hunk's context+delete lines match,
// preferring the declared offset and searching a bounded window around it.
func findHunkStart(lines []string, h hunk, preferred int) (int, bool) {
	from := make([]string, 0, len(h.lines))
	for _, l := range h.lines {
		if l == "" {
			continue
		}
		switch l[0] {
		case ' ', '-':
			from = append(from, l[1:])
		}
	}
	if len(from) == 0 {
		if preferred > len(lines) {
			return len(lines), true
		}
		return preferred, true
	}

	tryAt := func(pos int) bool {
		if pos < 0 || pos+len(from) > len(lines) {
			return false
		}
		for i := 0; i < len(from); i++ {
			if lines[pos+i] != from[i] {
				return false
			}
		}
		return true
	}

	if tryAt(preferred) {
		return preferred, true
	}
	start := preferred - hunkSearchWindow
	if start < 0 {
		start = 0
	}
	end := preferred + hunkSearchWindow
	if end > len(lines) {
		end = len(lines)
	}
	for pos := start; pos <= end; pos++ {
		if tryAt(pos) {
			return pos, true
		}
	}
	return 0, false
}

func applyHunk(lines []string, h hunk, start int) ([]string, int, error) {
	cursor := start
	delta := 0
	for _, l := range h.lines {
		if l == "" {
			continue
		}
		prefix := l[0]
		text := ""
		if len(l) > 1 {
			text = l[1:]
		}
		switch prefix {
		case ' ':
			if cursor >= len(lines) || lines[cursor] != text {
				return nil, 0, apperr.Newf(apperr.KindPatch, "hunk context mismatch at line %d", cursor+1)
			}
			cursor++
		case '-':
			if cursor >= len(lines) || lines[cursor] != text {
				return nil, 0, apperr.Newf(apperr.KindPatch, "hunk delete mismatch at line %d", cursor+1)
			}
			lines = append(lines[:cursor], lines[cursor+1:]...)
			delta--
		case '+':
			lines = append(lines[:cursor], append([]string{text}, lines[cursor:]...)...)
			cursor++
			delta++
		case '\\':
			// "\ No newline at end of file"
			continue
		default:
			return nil, 0, apperr.Newf(apperr.KindPatch, "invalid hunk line: %q", l)
		}
	}
	return lines, delta, nil
}

// ChangedLines counts +/- body lines, for edit summaries.
func ChangedLines(diff string) int {
	n := 0
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			n++
		}
	}
	return n
}
