package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"appforge/internal/config"
	"appforge/internal/diff"
	"appforge/internal/llm"
	"appforge/internal/logging"
	"appforge/internal/project"
)

// ToolRunner executes read-only inspection commands for the
// context-gathering stage. Implementations must reject anything that
// writes to the tree.
type ToolRunner interface {
	Run(ctx context.Context, command string, args []string) (string, error)
}

// allowedContextCommands is the whitelist the context stage may request.
var allowedContextCommands = map[string]bool{
	"grep": true,
	"find": true,
	"cat":  true,
	"ls":   true,
}

// Orchestrator runs the generation stages in order, routing each stage
// to its configured model tier with its own token budget and fallback.
type Orchestrator struct {
	router *llm.Router
	llmCfg config.LLMConfig
	cfg    config.PipelineConfig
	tools  ToolRunner
	engine *diff.Engine
}

// New builds an Orchestrator. tools may be nil, which disables the
// context-gathering stage's command execution.
func New(router *llm.Router, llmCfg config.LLMConfig, cfg config.PipelineConfig, tools ToolRunner) *Orchestrator {
	return &Orchestrator{
		router: router,
		llmCfg: llmCfg,
		cfg:    cfg,
		tools:  tools,
		engine: diff.NewEngine(),
	}
}

func (o *Orchestrator) stageRequest(sc config.StageConfig, stage, system, user string) llm.Request {
	return llm.Request{
		Model:       o.llmCfg.ModelForTier(sc.Tier),
		System:      system,
		User:        user,
		MaxTokens:   sc.MaxTokens,
		Temperature: sc.Temperature,
		Stage:       stage,
	}
}

// GatherContext runs stage 1. It never fails a run: any model or tool
// error degrades to "no extra context".
func (o *Orchestrator) GatherContext(ctx context.Context, prompt string, files []project.File) string {
	if o.cfg.SkipContextGathering || o.tools == nil || len(files) == 0 {
		return ""
	}
	sc := o.cfg.ContextGathering
	user := fmt.Sprintf("User request:\n%s\n\nProject files:\n%s", prompt, buildFileListing(files))
	raw, err := o.router.Call(ctx, o.stageRequest(sc, "context-gathering", contextSystemPrompt, user), sc.FallbackModel)
	if err != nil {
		logging.Pipeline("context gathering skipped: %v", err)
		return ""
	}
	decision := parseContextDecision(raw)
	if !decision.NeedsContext || len(decision.Commands) == 0 {
		return ""
	}
	if len(decision.Commands) > 5 {
		decision.Commands = decision.Commands[:5]
	}

	var b strings.Builder
	for _, cmd := range decision.Commands {
		if !allowedContextCommands[cmd.Command] {
			logging.Pipeline("context command %q not allowed, skipping", cmd.Command)
			continue
		}
		out, err := o.tools.Run(ctx, cmd.Command, cmd.Args)
		if err != nil {
			logging.PipelineDebug("context command %s failed: %v", cmd.Command, err)
			continue
		}
		fmt.Fprintf(&b, "$ %s %s\n%s\n", cmd.Command, strings.Join(cmd.Args, " "), truncate(out, 4000))
	}
	return b.String()
}

// ParseIntent runs stage 2. A malformed response degrades to a default
// intent that treats the raw prompt as the feature.
func (o *Orchestrator) ParseIntent(ctx context.Context, prompt, extraContext string, files []project.File) (*Intent, error) {
	sc := o.cfg.IntentParsing
	raw, err := o.router.Call(ctx, o.stageRequest(sc, "intent-parsing", intentSystemPrompt, buildIntentUser(prompt, extraContext, files)), sc.FallbackModel)
	if err != nil {
		return nil, fmt.Errorf("intent parsing: %w", err)
	}
	intent, status := parseIntent(raw, prompt)
	if status != ParseOK {
		logging.Pipeline("intent parse %s, using defaults where needed", status)
	}
	logging.PipelineDebug("intent: feature=%q storage=%s needsChanges=%v targets=%d",
		intent.Feature, intent.StorageMode, intent.NeedsChanges, len(intent.TargetFiles))
	return intent, nil
}

// PlanPatches runs stage 3.
func (o *Orchestrator) PlanPatches(ctx context.Context, intent *Intent, files []project.File, followUp bool) (*PatchPlan, error) {
	sc := o.cfg.PatchPlanning
	system := planSystemPrompt
	if followUp {
		system += planDiffAddendum(o.cfg.MaxHunkLines)
	}
	raw, err := o.router.Call(ctx, o.stageRequest(sc, "patch-planning", system, buildPlanUser(intent, files, followUp)), sc.FallbackModel)
	if err != nil {
		return nil, fmt.Errorf("patch planning: %w", err)
	}
	res := parsePlan(raw)
	for _, w := range res.Warnings {
		logging.Pipeline("plan warning: %s", w)
	}
	if res.Status == ParseFailed {
		return nil, fmt.Errorf("patch planning: %s", res.Reason)
	}
	return res.Plan, nil
}

// GenerateFiles runs stage 4 for initial generation, producing complete
// files. A truncated response is retried once with a doubled budget.
func (o *Orchestrator) GenerateFiles(ctx context.Context, intent *Intent, plan *PatchPlan, files []project.File) ([]project.File, error) {
	sc := o.cfg.CodeGeneration
	user := buildCodegenUser(intent, plan, files)

	raw, err := o.router.Call(ctx, o.stageRequest(sc, "code-generation", codegenSystemPrompt, user), sc.FallbackModel)
	if err != nil {
		return nil, fmt.Errorf("code generation: %w", err)
	}
	generated, perr := parseFiles(raw)
	if perr != nil && looksTruncated(raw) {
		logging.Pipeline("code generation output truncated at %d tokens, retrying with doubled budget", sc.MaxTokens)
		wide := sc
		wide.MaxTokens = sc.MaxTokens * 2
		raw, err = o.router.Call(ctx, o.stageRequest(wide, "code-generation", codegenSystemPrompt, user), sc.FallbackModel)
		if err != nil {
			return nil, fmt.Errorf("code generation retry: %w", err)
		}
		generated, perr = parseFiles(raw)
	}
	if perr != nil {
		return nil, fmt.Errorf("code generation: %w", perr)
	}

	out := make([]project.File, 0, len(generated))
	for _, g := range generated {
		if g.Filename == "" {
			continue
		}
		out = append(out, project.File{Name: g.Filename, Content: g.Content})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("code generation produced no files")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PlanFixes runs the validation/fix stage against reported build errors,
// asking for diff-based corrections to the affected files.
func (o *Orchestrator) PlanFixes(ctx context.Context, summary string, files []project.File, names []string) (*PatchPlan, error) {
	sc := o.cfg.Validation
	raw, err := o.router.Call(ctx, o.stageRequest(sc, "validation", fixSystemPrompt, buildFixUser(summary, files, names)), sc.FallbackModel)
	if err != nil {
		return nil, fmt.Errorf("fix planning: %w", err)
	}
	res := parsePlan(raw)
	for _, w := range res.Warnings {
		logging.Pipeline("fix plan warning: %s", w)
	}
	if res.Status == ParseFailed {
		return nil, fmt.Errorf("fix planning: %s", res.Reason)
	}
	return res.Plan, nil
}

// GenerateInitial runs the full pipeline for a fresh app: context,
// intent, plan, then complete-file generation merged over the template.
func (o *Orchestrator) GenerateInitial(ctx context.Context, prompt string, template []project.File) (*InitialResult, error) {
	extra := o.GatherContext(ctx, prompt, template)

	intent, err := o.ParseIntent(ctx, prompt, extra, template)
	if err != nil {
		return nil, err
	}

	plan, err := o.PlanPatches(ctx, intent, template, false)
	if err != nil {
		return nil, err
	}

	generated, err := o.GenerateFiles(ctx, intent, plan, template)
	if err != nil {
		return nil, err
	}

	files := append([]project.File(nil), template...)
	for _, g := range generated {
		files = project.Upsert(files, g.Name, g.Content)
	}
	for _, p := range plan.Patches {
		if p.Operation == "delete" {
			files = project.Remove(files, p.Filename)
		}
	}
	logging.Pipeline("initial generation produced %d files (%d generated)", len(files), len(generated))
	return &InitialResult{Intent: intent, Files: files}, nil
}

// GenerateFollowUp runs the pipeline for an edit request. When useDiff
// is set, planned diff hunks are applied fuzzily; files whose hunks are
// all skipped fall back to full-content regeneration for that file.
func (o *Orchestrator) GenerateFollowUp(ctx context.Context, prompt string, files []project.File, useDiff bool) (*FollowUpResult, error) {
	extra := o.GatherContext(ctx, prompt, files)

	intent, err := o.ParseIntent(ctx, prompt, extra, files)
	if err != nil {
		return nil, err
	}
	if !intent.NeedsChanges {
		logging.Pipeline("request needs no code changes, returning current files")
		return &FollowUpResult{Intent: intent, Files: files, NoChanges: true}, nil
	}

	plan, err := o.PlanPatches(ctx, intent, files, useDiff)
	if err != nil {
		return nil, err
	}

	if useDiff {
		return o.applyPlan(ctx, intent, plan, files)
	}

	generated, err := o.GenerateFiles(ctx, intent, plan, files)
	if err != nil {
		return nil, err
	}
	result := &FollowUpResult{Intent: intent, Files: append([]project.File(nil), files...)}
	for _, g := range generated {
		before, _ := project.Lookup(result.Files, g.Name)
		if before.Content == g.Content {
			continue
		}
		result.Files = project.Upsert(result.Files, g.Name, g.Content)
		result.ChangedFiles = append(result.ChangedFiles, g.Name)
		if fd, derr := o.engine.Generate(g.Name, before.Content, g.Content); derr == nil {
			result.Diffs = append(result.Diffs, *fd)
		}
	}
	for _, p := range plan.Patches {
		if p.Operation == "delete" {
			result.Files = project.Remove(result.Files, p.Filename)
			result.ChangedFiles = append(result.ChangedFiles, p.Filename)
		}
	}
	return result, nil
}

// ApplyFixes applies a fix plan's diff hunks to the given files,
// returning the updated set and the names of files actually changed.
func (o *Orchestrator) ApplyFixes(ctx context.Context, intent *Intent, plan *PatchPlan, files []project.File) (*FollowUpResult, error) {
	return o.applyPlan(ctx, intent, plan, files)
}

func (o *Orchestrator) applyPlan(ctx context.Context, intent *Intent, plan *PatchPlan, files []project.File) (*FollowUpResult, error) {
	opts := diff.DefaultOptions()
	opts.ContextMatchThreshold = o.cfg.ContextMatchThreshold
	opts.MinContextForSearch = o.cfg.MinContextForSearch

	result := &FollowUpResult{Intent: intent, Files: append([]project.File(nil), files...)}
	for _, p := range plan.Patches {
		switch p.Operation {
		case "delete":
			result.Files = project.Remove(result.Files, p.Filename)
			result.ChangedFiles = append(result.ChangedFiles, p.Filename)
			continue
		case "create":
			content := p.Content
			if content == "" && p.UnifiedDiff != "" {
				content = diff.NewFileContent(p.UnifiedDiff)
			}
			if content == "" && len(p.DiffHunks) > 0 {
				content = diff.NewFileContent(diff.RenderUnified(p.Filename, p.DiffHunks))
			}
			if content == "" {
				logging.Pipeline("create %s: no content in plan, regenerating", p.Filename)
				regenerated, err := o.regenerateFile(ctx, intent, p, result.Files)
				if err != nil {
					return nil, err
				}
				content = regenerated
			}
			before, existed := project.Lookup(result.Files, p.Filename)
			result.Files = project.Upsert(result.Files, p.Filename, content)
			result.ChangedFiles = append(result.ChangedFiles, p.Filename)
			old := ""
			if existed {
				old = before.Content
			}
			if fd, derr := o.engine.Generate(p.Filename, old, content); derr == nil {
				result.Diffs = append(result.Diffs, *fd)
			}
			continue
		}

		// modify
		existing, ok := project.Lookup(result.Files, p.Filename)
		if !ok {
			logging.Pipeline("modify %s: file not found, treating as create", p.Filename)
			p.Operation = "create"
			if p.Content == "" {
				regenerated, err := o.regenerateFile(ctx, intent, p, result.Files)
				if err != nil {
					return nil, err
				}
				p.Content = regenerated
			}
			result.Files = project.Upsert(result.Files, p.Filename, p.Content)
			result.ChangedFiles = append(result.ChangedFiles, p.Filename)
			continue
		}
		before := existing.Content

		hunks := p.DiffHunks
		if len(hunks) == 0 && p.UnifiedDiff != "" {
			hunks = diff.ParseUnified(p.UnifiedDiff)
			if len(hunks) == 0 {
				logging.Pipeline("modify %s: unified diff yielded no hunks", p.Filename)
			}
		}

		// Structurally invalid hunks are rejected before application;
		// the patch then falls through to full-content handling.
		if len(hunks) > 0 {
			if verr := diff.Validate(hunks); verr != nil {
				logging.DiffWarn("%s: rejecting planned hunks: %v", p.Filename, verr)
				hunks = nil
			}
		}

		var after string
		if len(hunks) > 0 {
			for _, warn := range diff.Suspicious(hunks) {
				logging.DiffWarn("%s: %s", p.Filename, warn)
			}
			applied, report := diff.Apply(before, hunks, opts)
			for _, rel := range report.Relocations {
				logging.DiffDebug("%s: hunk relocated %d -> %d (%d/%d context matched)",
					p.Filename, rel.DeclaredStart, rel.AnchoredStart, rel.Matched, rel.Sampled)
			}
			for _, sk := range report.Skipped {
				logging.DiffWarn("%s: hunk at %d skipped: %s", p.Filename, sk.OldStart, sk.Reason)
			}
			if report.Applied == 0 && len(hunks) > 0 {
				logging.Pipeline("modify %s: all hunks skipped, falling back to full regeneration", p.Filename)
				regenerated, err := o.regenerateFile(ctx, intent, p, result.Files)
				if err != nil {
					return nil, err
				}
				after = regenerated
			} else {
				after = applied
			}
		} else if p.Content != "" {
			after = p.Content
		} else {
			regenerated, err := o.regenerateFile(ctx, intent, p, result.Files)
			if err != nil {
				return nil, err
			}
			after = regenerated
		}

		if after == before {
			continue
		}
		result.Files = project.Upsert(result.Files, p.Filename, after)
		result.ChangedFiles = append(result.ChangedFiles, p.Filename)
		if fd, derr := o.engine.Generate(p.Filename, before, after); derr == nil {
			result.Diffs = append(result.Diffs, *fd)
		}
	}
	return result, nil
}

// regenerateFile asks the code-generation stage for the complete content
// of a single file. Used when a patch carries no usable diff or content.
func (o *Orchestrator) regenerateFile(ctx context.Context, intent *Intent, patch FilePatch, files []project.File) (string, error) {
	single := &PatchPlan{Patches: []FilePatch{patch}}
	generated, err := o.GenerateFiles(ctx, intent, single, files)
	if err != nil {
		return "", fmt.Errorf("regenerate %s: %w", patch.Filename, err)
	}
	for _, g := range generated {
		if g.Name == patch.Filename {
			return g.Content, nil
		}
	}
	// Model sometimes normalizes the path; accept a lone file.
	if len(generated) == 1 {
		return generated[0].Content, nil
	}
	return "", fmt.Errorf("regenerate %s: file missing from response", patch.Filename)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... [truncated]"
}
