// Package editor applies search/replace edits to source files. Matching runs
// through progressively looser layers so edits survive the small formatting
// drift models introduce, while replacements stay byte-exact.
package editor

import (
	"fmt"
	"strings"
)

// MatchLayer names the layer that located the search block.
type MatchLayer string

const (
	// LayerExact is a byte-for-byte match.
	LayerExact MatchLayer = "exact"
	// LayerTrimmed matches after per-line right-trim and EOL normalization.
	LayerTrimmed MatchLayer = "trimmed"
	// LayerCollapsed matches after collapsing each line's interior whitespace.
	LayerCollapsed MatchLayer = "collapsed"
	// LayerIndent matches ignoring a uniform indentation offset, which is
	// re-applied to the replacement.
	LayerIndent MatchLayer = "indent"
)

// Match locates a search block inside content.
type Match struct {
	// Start and End are byte offsets of the matched region in content.
	Start int
	End   int
	// Layer records which matching layer succeeded.
	Layer MatchLayer
	// Replacement is the replacement text adjusted for the matched region
	// (indentation re-applied for LayerIndent).
	Replacement string
}

// FindMatch runs the four matching layers in order against content,
// returning the first unambiguous match. A block that matches more than once
// within a layer is ambiguous and fails that layer outright rather than
// falling through.
func FindMatch(content, search, replace string) (*Match, error) {
	if search == "" {
		return nil, fmt.Errorf("empty search block")
	}

	// Layer 1: exact.
	if n := strings.Count(content, search); n == 1 {
		start := strings.Index(content, search)
		return &Match{Start: start, End: start + len(search), Layer: LayerExact, Replacement: replace}, nil
	} else if n > 1 {
		return nil, &Mismatch{Search: search, Reason: fmt.Sprintf("search block appears %d times; add surrounding context to make it unique", n)}
	}

	lines := splitLines(content)
	searchLines := splitLines(normalizeEOL(search))

	// Layer 2: right-trimmed lines, normalized EOLs.
	if m := findByLines(content, lines, searchLines, replace, LayerTrimmed, rightTrim); m != nil || isAmbiguous(lines, searchLines, rightTrim) {
		if m != nil {
			return m, nil
		}
		return nil, ambiguityError(search)
	}

	// Layer 3: collapse interior whitespace runs.
	if m := findByLines(content, lines, searchLines, replace, LayerCollapsed, collapseSpace); m != nil || isAmbiguous(lines, searchLines, collapseSpace) {
		if m != nil {
			return m, nil
		}
		return nil, ambiguityError(search)
	}

	// Layer 4: uniform indentation offset, re-applied to the replacement.
	if m := findIndentMatch(content, lines, searchLines, replace); m != nil {
		return m, nil
	}

	return nil, &Mismatch{
		Search:  search,
		Reason:  "search block not found in file",
		Closest: closestWindow(lines, searchLines),
		Layers:  []MatchLayer{LayerExact, LayerTrimmed, LayerCollapsed, LayerIndent},
		Resend:  true,
	}
}

// Apply replaces the matched region and returns the new content.
func Apply(content string, m *Match) string {
	return content[:m.Start] + m.Replacement + content[m.End:]
}

type line struct {
	text  string
	start int // byte offset of line start in content
	end   int // byte offset past the line's text, excluding EOL
}

func splitLines(content string) []line {
	var out []line
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			end := i
			if end > start && content[end-1] == '\r' {
				end--
			}
			out = append(out, line{text: content[start:end], start: start, end: end})
			start = i + 1
		}
	}
	out = append(out, line{text: content[start:], start: start, end: len(content)})
	return out
}

func normalizeEOL(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func rightTrim(s string) string {
	return strings.TrimRight(s, " \t")
}

// collapseSpace collapses interior whitespace runs but keeps the leading
// indentation, so indentation offsets stay the indent layer's job.
func collapseSpace(s string) string {
	trimmed := strings.TrimLeft(s, " \t")
	lead := s[:len(s)-len(trimmed)]
	return lead + strings.Join(strings.Fields(trimmed), " ")
}

// findByLines scans for a window of len(searchLines) consecutive lines whose
// canonical forms equal the canonical search lines. Returns nil unless
// exactly one window matches.
func findByLines(content string, lines []line, searchLines []line, replace string, layer MatchLayer, canon func(string) string) *Match {
	starts := matchingWindows(lines, searchLines, canon)
	if len(starts) != 1 {
		return nil
	}
	i := starts[0]
	last := lines[i+len(searchLines)-1]
	return &Match{Start: lines[i].start, End: last.end, Layer: layer, Replacement: replace}
}

func isAmbiguous(lines, searchLines []line, canon func(string) string) bool {
	return len(matchingWindows(lines, searchLines, canon)) > 1
}

func matchingWindows(lines, searchLines []line, canon func(string) string) []int {
	var starts []int
	for i := 0; i+len(searchLines) <= len(lines); i++ {
		ok := true
		for j := range searchLines {
			if canon(lines[i+j].text) != canon(searchLines[j].text) {
				ok = false
				break
			}
		}
		if ok {
			starts = append(starts, i)
		}
	}
	return starts
}

// findIndentMatch looks for a window where every line equals the search line
// after removing one uniform indentation prefix, then re-indents the
// replacement by that prefix.
func findIndentMatch(content string, lines, searchLines []line, replace string) *Match {
	type hit struct {
		start  int
		prefix string
	}
	var hits []hit
	for i := 0; i+len(searchLines) <= len(lines); i++ {
		prefix, ok := windowIndentOffset(lines[i:i+len(searchLines)], searchLines)
		if ok {
			hits = append(hits, hit{start: i, prefix: prefix})
		}
	}
	if len(hits) != 1 {
		return nil
	}
	h := hits[0]
	last := lines[h.start+len(searchLines)-1]
	return &Match{
		Start:       lines[h.start].start,
		End:         last.end,
		Layer:       LayerIndent,
		Replacement: reindent(replace, h.prefix),
	}
}

// windowIndentOffset returns the uniform prefix by which every non-blank
// window line is indented relative to its search line.
func windowIndentOffset(window, searchLines []line) (string, bool) {
	prefix := ""
	prefixSet := false
	for j := range searchLines {
		got := window[j].text
		want := searchLines[j].text
		if strings.TrimSpace(want) == "" {
			if strings.TrimSpace(got) != "" {
				return "", false
			}
			continue
		}
		if !strings.HasSuffix(got, want) {
			return "", false
		}
		p := got[:len(got)-len(want)]
		if strings.TrimSpace(p) != "" {
			return "", false
		}
		if !prefixSet {
			prefix = p
			prefixSet = true
		} else if p != prefix {
			return "", false
		}
	}
	if !prefixSet || prefix == "" {
		return "", false
	}
	return prefix, true
}

func reindent(text, prefix string) string {
	parts := strings.Split(normalizeEOL(text), "\n")
	for i, p := range parts {
		if strings.TrimSpace(p) != "" {
			parts[i] = prefix + p
		}
	}
	return strings.Join(parts, "\n")
}

// closestWindow returns the content window with the highest per-line
// similarity to the search block, for the mismatch report.
func closestWindow(lines, searchLines []line) string {
	bestScore := -1
	bestStart := -1
	for i := 0; i+len(searchLines) <= len(lines); i++ {
		score := 0
		for j := range searchLines {
			if collapseSpace(lines[i+j].text) == collapseSpace(searchLines[j].text) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}
	if bestStart < 0 || bestScore == 0 {
		return ""
	}
	var out []string
	for j := range searchLines {
		out = append(out, lines[bestStart+j].text)
	}
	return strings.Join(out, "\n")
}

func ambiguityError(search string) error {
	return &Mismatch{
		Search: search,
		Reason: "search block matches multiple locations; add surrounding context to make it unique",
	}
}
