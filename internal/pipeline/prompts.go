package pipeline

import (
	"fmt"
	"strings"

	"appforge/internal/project"
)

const contextSystemPrompt = `You decide whether extra project context is needed before editing code.
You may request read-only inspection commands (grep, find, cat, ls) against the project tree.
Respond with JSON only: {"needsContext": bool, "commands": [{"command": "...", "args": ["..."], "purpose": "..."}]}.
Request at most 5 commands. If the file listing already answers the request, set needsContext to false.`

const intentSystemPrompt = `You translate a user's app request into a structured intent.
Respond with JSON only:
{"feature": "...", "requirements": ["..."], "targetFiles": ["..."], "needsChanges": bool, "storageMode": "web3"|"local-storage", "contractTemplate": "..."}.
Set needsChanges to false only when the request requires no code change at all.
Choose "web3" only when the app's core state must live on-chain; default to "local-storage".`

const planSystemPrompt = `You plan file-level changes for a Next.js app. Respond with JSON only:
{"patches": [{"filename": "...", "operation": "create"|"modify"|"delete", "purpose": "...",
  "changes": [{"type": "add"|"replace"|"remove", "target": "...", "description": "...", "location": "...", "dependencies": ["..."], "contractInteraction": "..."}]}]}.
Plan the minimal set of files that fully implements the request. Never plan changes to lockfiles or build output.`

// planDiffAddendum is appended for follow-up edits. Small hunks matter:
// fuzzy matching degrades as hunk size grows.
func planDiffAddendum(maxHunkLines int) string {
	return fmt.Sprintf(`
For each modified file also emit "diffHunks": an array of
{"oldStart": n, "oldLines": n, "newStart": n, "newLines": n, "lines": ["..."]} where every
line starts with "+", "-" or " " (context). Keep hunks under %d lines of payload; emit
several small hunks instead of one large one. Include at least 2 context lines per hunk,
copied exactly from the current file content.`, maxHunkLines)
}

const codegenSystemPrompt = `You write complete production files for a Next.js 14 + TypeScript + Tailwind app.
Respond with JSON only: an array of {"filename": "...", "content": "..."} objects.
Every file must be complete and self-consistent; never emit placeholders, TODO markers or elided sections.`

const fixSystemPrompt = `You fix build errors in a Next.js app with the smallest possible change. Respond with JSON only:
{"patches": [{"filename": "...", "operation": "modify", "purpose": "...", "diffHunks": [...]}]}
using diff hunks as specified. Fix only the reported errors; do not refactor.`

// buildFileListing renders the tree as "name (n lines)" rows for prompts
// where content would blow the token budget.
func buildFileListing(files []project.File) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%d lines)\n", f.Name, strings.Count(f.Content, "\n")+1)
	}
	return b.String()
}

// buildFileContents renders full file contents fenced per file, limited
// to the named files (or all files when names is nil).
func buildFileContents(files []project.File, names []string) string {
	include := func(string) bool { return true }
	if names != nil {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		include = func(n string) bool { return set[n] }
	}
	var b strings.Builder
	for _, f := range files {
		if !include(f.Name) {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", f.Name, f.Content)
	}
	return b.String()
}

func buildIntentUser(prompt, extraContext string, files []project.File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request:\n%s\n\n", prompt)
	if len(files) > 0 {
		fmt.Fprintf(&b, "Project files:\n%s\n", buildFileListing(files))
	}
	if extraContext != "" {
		fmt.Fprintf(&b, "Gathered context:\n%s\n", extraContext)
	}
	return b.String()
}

func buildPlanUser(intent *Intent, files []project.File, followUp bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\n", intent.Feature)
	if len(intent.Requirements) > 0 {
		fmt.Fprintf(&b, "Requirements:\n")
		for _, r := range intent.Requirements {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	fmt.Fprintf(&b, "Storage mode: %s\n\n", intent.StorageMode)
	if followUp {
		names := intent.TargetFiles
		if len(names) == 0 {
			names = nil
		}
		fmt.Fprintf(&b, "Current files:\n%s", buildFileContents(files, names))
		if names != nil {
			fmt.Fprintf(&b, "Other files:\n%s", buildFileListing(files))
		}
	} else if len(files) > 0 {
		fmt.Fprintf(&b, "Template files:\n%s", buildFileListing(files))
	}
	return b.String()
}

func buildCodegenUser(intent *Intent, plan *PatchPlan, files []project.File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\nStorage mode: %s\n\n", intent.Feature, intent.StorageMode)
	fmt.Fprintf(&b, "Files to produce:\n")
	for _, p := range plan.Patches {
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.Filename, p.Operation, p.Purpose)
		for _, c := range p.Changes {
			fmt.Fprintf(&b, "  - %s %s: %s\n", c.Type, c.Target, c.Description)
		}
	}
	if len(files) > 0 {
		fmt.Fprintf(&b, "\nExisting files for reference:\n%s", buildFileContents(files, planFilenames(plan)))
	}
	return b.String()
}

func buildFixUser(summary string, files []project.File, names []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Build errors:\n%s\n\n", summary)
	fmt.Fprintf(&b, "Affected files:\n%s", buildFileContents(files, names))
	return b.String()
}

func planFilenames(plan *PatchPlan) []string {
	names := make([]string, 0, len(plan.Patches))
	for _, p := range plan.Patches {
		names = append(names, p.Filename)
	}
	return names
}
