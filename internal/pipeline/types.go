// Package pipeline implements the five-stage generation pipeline: context
// gathering, intent parsing, patch planning, code generation, and
// validation/error-fix. Each stage has its own model tier, token budget
// and fallback model; the llm.Router owns retries.
package pipeline

import (
	"appforge/internal/diff"
	"appforge/internal/project"
)

// Intent is the structured interpretation of a free-text request.
type Intent struct {
	Feature      string   `json:"feature"`
	Requirements []string `json:"requirements"`
	TargetFiles  []string `json:"targetFiles"`

	// NeedsChanges is false when the request requires no code change at
	// all (questions, praise, duplicates of the current state).
	NeedsChanges bool `json:"needsChanges"`

	// StorageMode classifies the app as "web3" (on-chain state) or
	// "local-storage" (browser-only state).
	StorageMode string `json:"storageMode"`

	// ContractTemplate names a contract template when StorageMode is
	// web3 and a known template fits.
	ContractTemplate string `json:"contractTemplate,omitempty"`
}

// Change describes one edit within a file patch.
type Change struct {
	Type                string   `json:"type"` // add, replace, remove
	Target              string   `json:"target"`
	Description         string   `json:"description"`
	Location            string   `json:"location,omitempty"`
	Dependencies        []string `json:"dependencies,omitempty"`
	ContractInteraction string   `json:"contractInteraction,omitempty"`
}

// FilePatch is the planned change set for one file. For follow-up edits
// the planning stage also emits DiffHunks/UnifiedDiff; Content is the
// full-content fallback used when diffs are absent or unusable.
type FilePatch struct {
	Filename    string      `json:"filename"`
	Operation   string      `json:"operation"` // create, modify, delete
	Purpose     string      `json:"purpose"`
	Changes     []Change    `json:"changes,omitempty"`
	DiffHunks   []diff.Hunk `json:"diffHunks,omitempty"`
	UnifiedDiff string      `json:"unifiedDiff,omitempty"`
	Content     string      `json:"content,omitempty"`
}

// PatchPlan is the ordered set of per-file patches for one run.
type PatchPlan struct {
	Patches []FilePatch `json:"patches"`
}

// ContextCommand is one read-only inspection command requested by the
// context-gathering stage.
type ContextCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Purpose string   `json:"purpose,omitempty"`
}

// ContextDecision is the context-gathering stage's output.
type ContextDecision struct {
	NeedsContext bool             `json:"needsContext"`
	Commands     []ContextCommand `json:"commands,omitempty"`
}

// InitialResult is the outcome of an initial generation run.
type InitialResult struct {
	Intent *Intent
	Files  []project.File
}

// FollowUpResult is the outcome of a follow-up edit run.
type FollowUpResult struct {
	Intent       *Intent
	Files        []project.File
	Diffs        []diff.FileDiff
	ChangedFiles []string

	// NoChanges is set when the intent stage decided the request needs no
	// code change; Files then carry the unmodified input set.
	NoChanges bool
}
