package diff

import (
	"fmt"
	"strings"
)

// Validate rejects structurally invalid hunks before application is
// attempted: non-positive start positions and empty line bodies. Count
// mismatches are NOT errors here; the parser auto-corrects those.
func Validate(hunks []Hunk) error {
	if len(hunks) == 0 {
		return fmt.Errorf("no hunks to apply")
	}
	for i, h := range hunks {
		if h.OldStart < 0 || h.NewStart < 0 {
			return fmt.Errorf("hunk %d: negative start position (-%d +%d)", i, h.OldStart, h.NewStart)
		}
		if h.OldStart == 0 && oldLineCount(h) > 0 {
			return fmt.Errorf("hunk %d: zero oldStart with non-empty old range", i)
		}
		if len(h.Lines) == 0 {
			return fmt.Errorf("hunk %d: empty line body", i)
		}
		for j, line := range h.Lines {
			if line == "" {
				continue
			}
			switch line[0] {
			case '+', '-', ' ':
			default:
				return fmt.Errorf("hunk %d line %d: missing diff prefix: %q", i, j, line)
			}
		}
	}
	return nil
}

// Suspicious flags patterns that often indicate a misplaced hunk, such as
// a statement apparently inserted inside an array or object literal. These
// are warnings only; the fuzzy applier still decides whether to apply.
func Suspicious(hunks []Hunk) []string {
	var warnings []string
	for i, h := range hunks {
		prevEndsOpen := false
		for _, line := range h.Lines {
			switch {
			case strings.HasPrefix(line, "+"):
				added := strings.TrimSpace(line[1:])
				if prevEndsOpen && looksLikeStatement(added) {
					warnings = append(warnings,
						fmt.Sprintf("hunk %d: statement inserted inside array/object literal: %q", i, added))
				}
			default:
				ctx := strings.TrimSpace(strings.TrimLeft(line, "+- "))
				prevEndsOpen = strings.HasSuffix(ctx, "[") || strings.HasSuffix(ctx, "{") ||
					strings.HasSuffix(ctx, ",")
			}
		}
	}
	return warnings
}

// looksLikeStatement reports whether an added line reads like a standalone
// statement rather than a literal element.
func looksLikeStatement(s string) bool {
	if strings.HasSuffix(s, ";") {
		return true
	}
	for _, kw := range []string{"const ", "let ", "var ", "return ", "function ", "import ", "export "} {
		if strings.HasPrefix(s, kw) {
			return true
		}
	}
	return false
}
