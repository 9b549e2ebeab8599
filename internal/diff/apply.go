package diff

import (
	"sort"
	"strings"

	"appforge/internal/logging"
)

// Options tunes the fuzzy applier. The thresholds are empirically tuned;
// callers normally take them from pipeline configuration.
type Options struct {
	// ContextMatchThreshold is the minimum fraction of a hunk's context
	// lines that must match at the anchored position for the hunk to be
	// applied. Below it the hunk is skipped, not failed.
	ContextMatchThreshold float64

	// MinContextForSearch is the minimum number of context lines required
	// before the global fuzzy search is attempted.
	MinContextForSearch int

	// MaxContextSample caps how many leading context lines the fuzzy
	// search compares at each candidate position.
	MaxContextSample int
}

// DefaultOptions returns the tuned production defaults.
func DefaultOptions() Options {
	return Options{
		ContextMatchThreshold: 0.7,
		MinContextForSearch:   2,
		MaxContextSample:      5,
	}
}

// SkippedHunk records a hunk the applier refused to apply, with the reason.
type SkippedHunk struct {
	OldStart int
	Reason   string
}

// Relocation records a hunk whose anchor moved away from its declared
// position after a fuzzy context search.
type Relocation struct {
	DeclaredStart int
	AnchoredStart int
	Matched       int
	Sampled       int
}

// ApplyReport summarizes one Apply call.
type ApplyReport struct {
	Applied     int
	Skipped     []SkippedHunk
	Relocations []Relocation
}

// Apply merges hunks into content, tolerating incorrect declared line
// numbers by locating each hunk through its context lines. Hunks are
// processed in descending OldStart order so earlier edits never invalidate
// later indices. A hunk that cannot be placed confidently is skipped; a
// failure affecting the whole file returns the original content unchanged.
// Apply never returns an error: degradation is skip-and-log by design of
// the patch set semantics (one bad file must not abort a multi-file patch).
func Apply(content string, hunks []Hunk, opts Options) (result string, report ApplyReport) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryDiff).Error("patch application panicked, keeping original content: %v", r)
			result = content
		}
	}()

	if len(hunks) == 0 {
		return content, report
	}

	lines, trailingNewline := splitLines(content)

	ordered := make([]Hunk, len(hunks))
	copy(ordered, hunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OldStart > ordered[j].OldStart
	})

	for _, h := range ordered {
		var ok bool
		lines, ok = applyHunk(lines, h, opts, &report)
		if ok {
			report.Applied++
		}
	}

	return joinLines(lines, trailingNewline), report
}

// applyHunk applies a single hunk, returning the updated lines and whether
// the hunk was applied.
func applyHunk(lines []string, h Hunk, opts Options, report *ApplyReport) ([]string, bool) {
	context := contextLines(h)

	// Nominal 0-based anchor. A zero-length old range is declared as the
	// line after which the insertion happens, which is already the 0-based
	// insertion index.
	anchor := h.OldStart - 1
	if oldLineCount(h) == 0 {
		anchor = h.OldStart
	}
	if anchor < 0 {
		anchor = 0
	}

	// Global context search: trust the file over the declared numbers.
	if len(context) >= opts.MinContextForSearch {
		if found, matched, sampled, exact := searchContext(lines, h, context, opts); exact || matched*2 >= sampled {
			if found != anchor {
				report.Relocations = append(report.Relocations, Relocation{
					DeclaredStart: h.OldStart,
					AnchoredStart: found + 1,
					Matched:       matched,
					Sampled:       sampled,
				})
				logging.DiffDebug("hunk -%d relocated to line %d (%d/%d context lines)",
					h.OldStart, found+1, matched, sampled)
			}
			anchor = found
		} else {
			// Keep the nominal position; the verification step below will
			// reject the hunk rather than apply garbage.
			logging.DiffWarn("hunk -%d: no context match found, keeping nominal position", h.OldStart)
		}
	}

	// Re-verify every context line at the anchored position.
	matched, total := verifyContext(lines, h, anchor)
	if total > 0 && float64(matched)/float64(total) < opts.ContextMatchThreshold {
		reason := "context mismatch at anchored position"
		logging.DiffWarn("skipping hunk -%d: %s (%d/%d)", h.OldStart, reason, matched, total)
		report.Skipped = append(report.Skipped, SkippedHunk{OldStart: h.OldStart, Reason: reason})
		return lines, false
	}

	return spliceHunk(lines, h, anchor), true
}

// searchContext scans every start position in the file for a consecutive
// run matching the first MaxContextSample context lines, using
// trimmed-whitespace equality. Returns the anchor implied by the best
// match, how many sampled lines matched there, the sample size, and
// whether the match was exact.
func searchContext(lines []string, h Hunk, context []string, opts Options) (anchor, matched, sampled int, exact bool) {
	sample := context
	if len(sample) > opts.MaxContextSample {
		sample = sample[:opts.MaxContextSample]
	}
	sampled = len(sample)

	// Old-side offset of the first context line within the hunk, so a
	// match position can be translated back to a hunk anchor.
	firstOffset := 0
	for _, line := range h.Lines {
		if strings.HasPrefix(line, "+") {
			continue
		}
		if !strings.HasPrefix(line, "-") {
			break
		}
		firstOffset++
	}

	bestPos, bestCount := -1, 0
	for pos := 0; pos < len(lines); pos++ {
		count := 0
		for i, ctx := range sample {
			if pos+i >= len(lines) {
				break
			}
			if !trimmedEqual(lines[pos+i], ctx) {
				break
			}
			count++
		}
		if count > bestCount {
			bestCount = count
			bestPos = pos
			if count == len(sample) {
				// Exact full match wins outright.
				a := bestPos - firstOffset
				if a < 0 {
					a = 0
				}
				return a, bestCount, sampled, true
			}
		}
	}

	if bestPos < 0 {
		return 0, 0, sampled, false
	}
	a := bestPos - firstOffset
	if a < 0 {
		a = 0
	}
	return a, bestCount, sampled, false
}

// verifyContext compares every context line of the hunk against the file
// at the anchored position. Two empty lines count as a match.
func verifyContext(lines []string, h Hunk, anchor int) (matched, total int) {
	oldOffset := 0
	for _, line := range h.Lines {
		switch {
		case strings.HasPrefix(line, "+"):
			continue
		case strings.HasPrefix(line, "-"):
			oldOffset++
		default:
			total++
			idx := anchor + oldOffset
			if idx < len(lines) && trimmedEqual(lines[idx], strings.TrimPrefix(line, " ")) {
				matched++
			}
			oldOffset++
		}
	}
	return matched, total
}

// lineOp is a single splice operation keyed by 0-based file index.
type lineOp struct {
	index int
	add   bool
	text  string
}

// spliceHunk builds remove/add operations keyed by anchored index, groups
// consecutive operations sharing an index, and applies removals then
// insertions per group in descending index order so earlier indices are
// never shifted.
func spliceHunk(lines []string, h Hunk, anchor int) []string {
	var ops []lineOp
	oldOffset := 0
	for _, line := range h.Lines {
		switch {
		case strings.HasPrefix(line, "-"):
			ops = append(ops, lineOp{index: anchor + oldOffset, add: false})
			oldOffset++
		case strings.HasPrefix(line, "+"):
			ops = append(ops, lineOp{index: anchor + oldOffset, add: true, text: line[1:]})
		default:
			oldOffset++
		}
	}

	type group struct {
		index   int
		removes int
		adds    []string
	}
	byIndex := make(map[int]*group)
	var order []int
	for _, op := range ops {
		g, ok := byIndex[op.index]
		if !ok {
			g = &group{index: op.index}
			byIndex[op.index] = g
			order = append(order, op.index)
		}
		if op.add {
			g.adds = append(g.adds, op.text)
		} else {
			g.removes++
		}
	}

	sort.Sort(sort.Reverse(sort.IntSlice(order)))
	for _, idx := range order {
		g := byIndex[idx]
		pos := g.index
		if pos > len(lines) {
			pos = len(lines)
		}
		end := pos + g.removes
		if end > len(lines) {
			end = len(lines)
		}
		merged := make([]string, 0, len(lines)-(end-pos)+len(g.adds))
		merged = append(merged, lines[:pos]...)
		merged = append(merged, g.adds...)
		merged = append(merged, lines[end:]...)
		lines = merged
	}

	return lines
}

// NewFileContent derives a freshly created file's content from a unified
// diff: every "+" line except the "+++" file header, taken literally. Used
// when the patch target does not exist yet.
func NewFileContent(unifiedDiff string) string {
	var out []string
	for _, line := range strings.Split(unifiedDiff, "\n") {
		if strings.HasPrefix(line, "+++") {
			continue
		}
		if strings.HasPrefix(line, "+") {
			out = append(out, line[1:])
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// contextLines returns the context line bodies of a hunk in order.
func contextLines(h Hunk) []string {
	var ctx []string
	for _, line := range h.Lines {
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			continue
		}
		ctx = append(ctx, strings.TrimPrefix(line, " "))
	}
	return ctx
}

// oldLineCount counts the old-side lines (context + removed) of a hunk.
func oldLineCount(h Hunk) int {
	n := 0
	for _, line := range h.Lines {
		if !strings.HasPrefix(line, "+") {
			n++
		}
	}
	return n
}

// trimmedEqual compares two lines ignoring surrounding whitespace.
func trimmedEqual(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// splitLines splits content into lines, remembering whether it was
// newline-terminated so the shape survives a round trip.
func splitLines(content string) ([]string, bool) {
	if content == "" {
		// Empty files count as newline-terminated so created content ends
		// with a final newline.
		return nil, true
	}
	trailing := strings.HasSuffix(content, "\n")
	lines := strings.Split(content, "\n")
	if trailing {
		lines = lines[:len(lines)-1]
	}
	return lines, trailing
}

func joinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if trailingNewline {
		s += "\n"
	}
	return s
}
