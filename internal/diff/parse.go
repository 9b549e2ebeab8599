package diff

import (
	"regexp"
	"strconv"
	"strings"

	"appforge/internal/logging"
)

// hunkHeaderRe matches "@@ -oldStart[,oldLines] +newStart[,newLines] @@".
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseUnified parses a unified-diff text body into hunks. Declared line
// counts are recomputed from the hunk body and silently overwritten when
// they disagree; models routinely emit zero or stale counts and that is
// expected input noise, not an error. A header that looks like a hunk
// header but fails to parse is skipped with a warning and parsing
// continues at the next valid header.
func ParseUnified(text string) []Hunk {
	var hunks []Hunk
	var cur *Hunk

	flush := func() {
		if cur == nil {
			return
		}
		correctCounts(cur)
		if len(cur.Lines) > 0 {
			hunks = append(hunks, *cur)
		}
		cur = nil
	}

	rows := strings.Split(text, "\n")
	if len(rows) > 0 && rows[len(rows)-1] == "" {
		rows = rows[:len(rows)-1]
	}

	for _, line := range rows {
		switch {
		case strings.HasPrefix(line, "@@"):
			flush()
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				logging.DiffWarn("skipping malformed hunk header: %q", line)
				continue
			}
			cur = &Hunk{
				OldStart: atoiDefault(m[1], 0),
				OldLines: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewLines: atoiDefault(m[4], 1),
			}

		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
			// File headers terminate any open hunk.
			flush()

		case strings.HasPrefix(line, `\ No newline`):
			continue

		case cur != nil:
			switch {
			case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"), strings.HasPrefix(line, " "):
				cur.Lines = append(cur.Lines, line)
			case line == "":
				// Some emitters strip the leading space from blank context lines.
				cur.Lines = append(cur.Lines, " ")
			default:
				// Anything else ends the hunk body.
				flush()
			}
		}
	}
	flush()

	return hunks
}

// correctCounts recomputes OldLines/NewLines from the actual line prefixes
// and overwrites the declared values when they differ.
func correctCounts(h *Hunk) {
	ctx, add, rem := 0, 0, 0
	for _, line := range h.Lines {
		switch {
		case strings.HasPrefix(line, "+"):
			add++
		case strings.HasPrefix(line, "-"):
			rem++
		default:
			ctx++
		}
	}

	oldLines := ctx + rem
	newLines := ctx + add
	if h.OldLines != oldLines || h.NewLines != newLines {
		logging.DiffDebug("correcting hunk counts at -%d: declared %d/%d, actual %d/%d",
			h.OldStart, h.OldLines, h.NewLines, oldLines, newLines)
		h.OldLines = oldLines
		h.NewLines = newLines
	}
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
