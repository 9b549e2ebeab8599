package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseStatus tags the outcome of parsing a stage's model output.
type ParseStatus int

const (
	// ParseOK means the output parsed cleanly.
	ParseOK ParseStatus = iota
	// ParsePartial means the output parsed after repair or with fields
	// discarded; Warnings name what was dropped.
	ParsePartial
	// ParseFailed means nothing usable could be recovered.
	ParseFailed
)

func (s ParseStatus) String() string {
	switch s {
	case ParseOK:
		return "ok"
	case ParsePartial:
		return "partial"
	default:
		return "failed"
	}
}

// PlanResult is the tagged result of parsing a patch-planning response.
type PlanResult struct {
	Status   ParseStatus
	Plan     *PatchPlan
	Warnings []string
	Reason   string
}

// extractJSON pulls the first balanced JSON object or array out of raw
// model output, tolerating prose and markdown fences around it.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	// Strip a fenced block if the whole response is one.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			close = '}'
			if open == '[' {
				close = ']'
			}
			break
		}
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case open:
			if !inString {
				depth++
			}
		case close:
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	// Unbalanced: return from start so callers can detect truncation.
	return s[start:]
}

// looksTruncated reports whether raw output appears to be a JSON payload
// cut off mid-stream, which is the signature of an exhausted token budget.
func looksTruncated(raw string) bool {
	body := extractJSON(raw)
	if body == "" {
		return false
	}
	var js json.RawMessage
	if json.Unmarshal([]byte(body), &js) == nil {
		return false
	}
	opens := strings.Count(body, "{") + strings.Count(body, "[")
	closes := strings.Count(body, "}") + strings.Count(body, "]")
	return opens > closes
}

// parseIntent decodes the intent-parsing stage output. A malformed
// response yields a conservative default intent rather than an error.
func parseIntent(raw, prompt string) (*Intent, ParseStatus) {
	body := extractJSON(raw)
	if body == "" {
		return defaultIntent(prompt), ParseFailed
	}
	var intent Intent
	if err := json.Unmarshal([]byte(body), &intent); err != nil {
		return defaultIntent(prompt), ParseFailed
	}
	status := ParseOK
	if intent.Feature == "" {
		intent.Feature = firstLine(prompt)
		status = ParsePartial
	}
	if intent.StorageMode != "web3" && intent.StorageMode != "local-storage" {
		intent.StorageMode = "local-storage"
		status = ParsePartial
	}
	return &intent, status
}

// defaultIntent is the safe fallback when intent parsing fails: treat
// the whole prompt as the feature and assume changes are needed.
func defaultIntent(prompt string) *Intent {
	return &Intent{
		Feature:      firstLine(prompt),
		Requirements: []string{prompt},
		NeedsChanges: true,
		StorageMode:  "local-storage",
	}
}

// parsePlan decodes a patch-planning response into a tagged PlanResult.
// Patches with no filename or an unknown operation are dropped with a
// warning; an empty survivor set is a failure.
func parsePlan(raw string) PlanResult {
	body := extractJSON(raw)
	if body == "" {
		return PlanResult{Status: ParseFailed, Reason: "no JSON object in response"}
	}

	var plan PatchPlan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		// Some models emit the patch array without the wrapper object.
		var patches []FilePatch
		if err2 := json.Unmarshal([]byte(body), &patches); err2 != nil {
			return PlanResult{Status: ParseFailed, Reason: fmt.Sprintf("decode plan: %v", err)}
		}
		plan.Patches = patches
	}

	var warnings []string
	kept := plan.Patches[:0]
	for _, p := range plan.Patches {
		if p.Filename == "" {
			warnings = append(warnings, "dropped patch with empty filename")
			continue
		}
		switch p.Operation {
		case "create", "modify", "delete":
		case "":
			p.Operation = "modify"
			warnings = append(warnings, fmt.Sprintf("%s: missing operation, assuming modify", p.Filename))
		default:
			warnings = append(warnings, fmt.Sprintf("%s: unknown operation %q, dropped", p.Filename, p.Operation))
			continue
		}
		kept = append(kept, p)
	}
	plan.Patches = kept

	if len(plan.Patches) == 0 {
		return PlanResult{Status: ParseFailed, Reason: "no usable patches", Warnings: warnings}
	}
	status := ParseOK
	if len(warnings) > 0 {
		status = ParsePartial
	}
	return PlanResult{Status: status, Plan: &plan, Warnings: warnings}
}

// parseFiles decodes a code-generation response: a JSON array of
// {filename, content} objects, optionally wrapped in {"files": [...]}.
func parseFiles(raw string) ([]generatedFile, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON payload in response")
	}
	var files []generatedFile
	if err := json.Unmarshal([]byte(body), &files); err == nil {
		return files, nil
	}
	var wrapped struct {
		Files []generatedFile `json:"files"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	if len(wrapped.Files) == 0 {
		return nil, fmt.Errorf("response contained no files")
	}
	return wrapped.Files, nil
}

type generatedFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// parseContextDecision decodes the context-gathering stage output. Any
// failure means "no extra context needed", never a fatal error.
func parseContextDecision(raw string) ContextDecision {
	body := extractJSON(raw)
	if body == "" {
		return ContextDecision{}
	}
	var d ContextDecision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return ContextDecision{}
	}
	return d
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
