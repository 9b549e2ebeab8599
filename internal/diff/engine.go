// Package diff implements the patch engine: diff generation between file
// versions, unified-diff parsing with count auto-correction, and fuzzy
// application of hunks whose declared line numbers cannot be trusted.
// Diff computation is backed by the sergi/go-diff library.
package diff

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"

	"appforge/internal/logging"
)

// Hunk is one contiguous block of change. Lines carry their unified-diff
// prefix: "+" added, "-" removed, " " context.
type Hunk struct {
	OldStart int      `json:"oldStart"`
	OldLines int      `json:"oldLines"`
	NewStart int      `json:"newStart"`
	NewLines int      `json:"newLines"`
	Lines    []string `json:"lines"`
}

// FileDiff represents all changes to one file.
type FileDiff struct {
	Filename    string `json:"filename"`
	Hunks       []Hunk `json:"hunks"`
	UnifiedDiff string `json:"unifiedDiff"`
	IsNew       bool   `json:"isNew,omitempty"`
	IsDelete    bool   `json:"isDelete,omitempty"`
}

// Engine computes diffs with caching for identical input pairs.
type Engine struct {
	dmp     *diffmatchpatch.DiffMatchPatch
	cache   sync.Map
	context int // context lines per hunk
}

type cacheKey struct {
	oldHash uint64
	newHash uint64
}

// NewEngine creates a diff engine tuned for code diffs.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // accuracy over speed
	return &Engine{dmp: dmp, context: 3}
}

// DefaultEngine is a shared engine for general use.
var DefaultEngine = NewEngine()

// Generate computes a FileDiff between two versions of a file's content.
// An empty old content is a pure addition, an empty new content a pure
// deletion. A failure here is fatal for this file only; callers fall back
// to sending full content instead of a diff.
func (e *Engine) Generate(filename, oldContent, newContent string) (fd *FileDiff, err error) {
	defer func() {
		if r := recover(); r != nil {
			fd = nil
			err = fmt.Errorf("diff computation failed for %s: %v", filename, r)
		}
	}()

	fd = &FileDiff{
		Filename: filename,
		IsNew:    oldContent == "",
		IsDelete: newContent == "",
	}

	key := cacheKey{fnv1a(oldContent), fnv1a(newContent)}
	if cached, ok := e.cache.Load(key); ok {
		if hunks, ok := cached.([]Hunk); ok {
			fd.Hunks = hunks
			fd.UnifiedDiff = RenderUnified(filename, hunks)
			return fd, nil
		}
	}

	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	edits := diffsToEdits(diffs)
	hunks := groupIntoHunks(edits, e.context)

	e.cache.Store(key, hunks)

	fd.Hunks = hunks
	fd.UnifiedDiff = RenderUnified(filename, hunks)
	logging.DiffDebug("generated diff for %s: %d hunks", filename, len(hunks))
	return fd, nil
}

// Generate is a convenience function using the default engine.
func Generate(filename, oldContent, newContent string) (*FileDiff, error) {
	return DefaultEngine.Generate(filename, oldContent, newContent)
}

// ClearCache clears the diff cache.
func (e *Engine) ClearCache() {
	e.cache = sync.Map{}
}

type editType int

const (
	editContext editType = iota
	editAdd
	editRemove
)

// lineEdit is a single line operation. old is the 0-based old-file index
// for context/removed lines, and the insertion point for added lines.
type lineEdit struct {
	typ  editType
	old  int
	new  int
	text string
}

// diffsToEdits converts diffmatchpatch output to line-based edits with
// running old/new indices.
func diffsToEdits(diffs []diffmatchpatch.Diff) []lineEdit {
	edits := make([]lineEdit, 0)
	oldLine := 0
	newLine := 0

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		// Drop the trailing empty element produced by a terminating newline.
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				edits = append(edits, lineEdit{typ: editContext, old: oldLine, new: newLine, text: line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				edits = append(edits, lineEdit{typ: editRemove, old: oldLine, new: newLine, text: line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				edits = append(edits, lineEdit{typ: editAdd, old: oldLine, new: newLine, text: line})
				newLine++
			}
		}
	}

	return edits
}

// groupIntoHunks groups edits into hunks with surrounding context.
func groupIntoHunks(edits []lineEdit, contextLines int) []Hunk {
	if len(edits) == 0 {
		return nil
	}

	var hunks []Hunk
	i := 0
	for i < len(edits) {
		if edits[i].typ == editContext {
			i++
			continue
		}

		// Found a change: open a hunk with leading context.
		start := i - contextLines
		if start < 0 {
			start = 0
		}

		// Extend through subsequent changes separated by <= 2*context lines
		// of unchanged text, then close with trailing context.
		end := i
		lastChange := i
		for end < len(edits) {
			if edits[end].typ != editContext {
				lastChange = end
			} else if end-lastChange > 2*contextLines {
				break
			}
			end++
		}
		tail := lastChange + contextLines + 1
		if tail > len(edits) {
			tail = len(edits)
		}

		hunks = append(hunks, buildHunk(edits[start:tail]))
		i = tail
	}

	return hunks
}

// buildHunk assembles a Hunk from a window of edits, computing start
// positions and line counts from what the window actually contains.
func buildHunk(window []lineEdit) Hunk {
	h := Hunk{Lines: make([]string, 0, len(window))}

	for _, e := range window {
		switch e.typ {
		case editContext:
			h.Lines = append(h.Lines, " "+e.text)
			h.OldLines++
			h.NewLines++
		case editRemove:
			h.Lines = append(h.Lines, "-"+e.text)
			h.OldLines++
		case editAdd:
			h.Lines = append(h.Lines, "+"+e.text)
			h.NewLines++
		}
	}

	// Start positions are 1-based; a zero-length range is anchored at the
	// line after which it applies, which is the 0-based insertion point.
	if h.OldLines == 0 {
		h.OldStart = window[0].old
	} else {
		for _, e := range window {
			if e.typ == editContext || e.typ == editRemove {
				h.OldStart = e.old + 1
				break
			}
		}
	}
	if h.NewLines == 0 {
		h.NewStart = window[0].new
	} else {
		for _, e := range window {
			if e.typ == editContext || e.typ == editAdd {
				h.NewStart = e.new + 1
				break
			}
		}
	}

	return h
}

// RenderUnified renders hunks as a standard unified diff body with file
// headers.
func RenderUnified(filename string, hunks []Hunk) string {
	if len(hunks) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n", filename)
	fmt.Fprintf(&sb, "+++ b/%s\n", filename)
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, line := range h.Lines {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// fnv1a computes a simple content hash for caching.
func fnv1a(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
