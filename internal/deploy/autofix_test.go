package deploy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/config"
	"appforge/internal/llm"
	"appforge/internal/pipeline"
	"appforge/internal/project"
)

// fakeDeploy replays scripted results and records the operations used.
type fakeDeploy struct {
	script []func(files []project.File) (*Result, error)
	ops    []string
	seen   [][]project.File
}

func (f *fakeDeploy) CreatePreview(_ context.Context, _ string, files []project.File) (*Result, error) {
	return f.next("create", files)
}

func (f *fakeDeploy) UpdatePreview(_ context.Context, _ string, files []project.File) (*Result, error) {
	return f.next("update", files)
}

func (f *fakeDeploy) next(op string, files []project.File) (*Result, error) {
	f.ops = append(f.ops, op)
	f.seen = append(f.seen, files)
	if len(f.script) == 0 {
		return nil, fmt.Errorf("unscripted deploy call")
	}
	step := f.script[0]
	f.script = f.script[1:]
	return step(files)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "request timed out" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

// fixClient scripts the validation stage so the fix plan is deterministic.
type fixClient struct {
	responses []string
}

func (c *fixClient) Complete(_ context.Context, req llm.Request) (string, error) {
	if len(c.responses) == 0 {
		return "", fmt.Errorf("unscripted LLM call for stage %s", req.Stage)
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func newTestFixer(client Client, llmResponses []string) *Fixer {
	orch := pipeline.New(
		llm.NewRouter(&fixClient{responses: llmResponses}, llm.RouterConfig{MaxAttempts: 1}),
		config.LLMConfig{FastModel: "f", BalancedModel: "b", PowerfulModel: "p"},
		config.DefaultPipelineConfig(),
		nil,
	)
	cfg := config.DefaultDeployConfig()
	return NewFixer(client, orch, cfg)
}

func ready() *Result {
	return &Result{Status: "ready", PreviewURL: "https://preview.test/app"}
}

func failing(logs string) *Result {
	return &Result{Status: "error", DeploymentError: "Build failed", DeploymentLogs: logs}
}

const tsErrorLogs = "./src/app/page.tsx:3:1\nType error: Cannot find name 'brokn'.\n"

// fixPlan replaces the broken line via a diff hunk.
const fixPlan = `{"patches": [{
	"filename": "src/app/page.tsx",
	"operation": "modify",
	"purpose": "fix typo",
	"diffHunks": [{
		"oldStart": 2, "oldLines": 2, "newStart": 2, "newLines": 2,
		"lines": [" line two", "-brokn()", "+broken()"]
	}]
}]}`

var appFiles = []project.File{{
	Name:    "src/app/page.tsx",
	Content: "line one\nline two\nbrokn()\nline four\n",
}}

func TestFixer_SuccessFirstTry(t *testing.T) {
	dc := &fakeDeploy{script: []func([]project.File) (*Result, error){
		func([]project.File) (*Result, error) { return ready(), nil },
	}}
	f := newTestFixer(dc, nil)

	out, err := f.Deploy(context.Background(), "app-1", appFiles, false)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Zero(t, out.FixAttempts)
	assert.Equal(t, []string{"create"}, dc.ops)
}

func TestFixer_FixesAndRedeploys(t *testing.T) {
	dc := &fakeDeploy{script: []func([]project.File) (*Result, error){
		func([]project.File) (*Result, error) { return failing(tsErrorLogs), nil },
		func([]project.File) (*Result, error) { return ready(), nil },
	}}
	f := newTestFixer(dc, []string{fixPlan})

	out, err := f.Deploy(context.Background(), "app-1", appFiles, false)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, 1, out.FixAttempts)
	assert.Equal(t, []string{"src/app/page.tsx"}, out.FixedFiles)
	assert.Equal(t, []string{"create", "update"}, dc.ops)

	got, ok := project.Lookup(out.Files, "src/app/page.tsx")
	require.True(t, ok)
	assert.Equal(t, "line one\nline two\nbroken()\nline four\n", got.Content)
}

func TestFixer_ExhaustsAttemptsButKeepsFiles(t *testing.T) {
	alwaysFail := func([]project.File) (*Result, error) { return failing(tsErrorLogs), nil }
	dc := &fakeDeploy{script: []func([]project.File) (*Result, error){alwaysFail, alwaysFail, alwaysFail}}
	secondFix := `{"patches": [{
		"filename": "src/app/page.tsx",
		"operation": "modify",
		"purpose": "another try",
		"diffHunks": [{
			"oldStart": 3, "oldLines": 2, "newStart": 3, "newLines": 2,
			"lines": [" broken()", "-line four", "+line 4"]
		}]
	}]}`
	f := newTestFixer(dc, []string{fixPlan, secondFix})

	out, err := f.Deploy(context.Background(), "app-1", appFiles, false)
	require.NoError(t, err)
	assert.False(t, out.Succeeded())
	assert.Equal(t, 2, out.FixAttempts)
	assert.Len(t, dc.ops, 3)

	// Both fixes landed in the persisted file set even though the build
	// never went green.
	got, _ := project.Lookup(out.Files, "src/app/page.tsx")
	assert.Equal(t, "line one\nline two\nbroken()\nline 4\n", got.Content)
}

func TestFixer_TimeoutRetriedVerbatim(t *testing.T) {
	dc := &fakeDeploy{script: []func([]project.File) (*Result, error){
		func([]project.File) (*Result, error) { return nil, timeoutErr{} },
		func([]project.File) (*Result, error) { return ready(), nil },
	}}
	f := newTestFixer(dc, nil)

	out, err := f.Deploy(context.Background(), "app-1", appFiles, false)
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Zero(t, out.FixAttempts)
	// Both requests were creates: the timeout did not advance the loop.
	assert.Equal(t, []string{"create", "create"}, dc.ops)
}

func TestFixer_TimeoutRetriesBounded(t *testing.T) {
	timeoutStep := func([]project.File) (*Result, error) { return nil, timeoutErr{} }
	dc := &fakeDeploy{script: []func([]project.File) (*Result, error){timeoutStep, timeoutStep, timeoutStep}}
	f := newTestFixer(dc, nil)

	_, err := f.Deploy(context.Background(), "app-1", appFiles, false)
	require.Error(t, err)
	assert.Len(t, dc.ops, 1+maxTimeoutRetries)
}

func TestFixer_UnparseableLogsAbandon(t *testing.T) {
	dc := &fakeDeploy{script: []func([]project.File) (*Result, error){
		func([]project.File) (*Result, error) { return failing("something exploded in a novel way"), nil },
	}}
	f := newTestFixer(dc, nil)

	out, err := f.Deploy(context.Background(), "app-1", appFiles, false)
	require.NoError(t, err)
	assert.False(t, out.Succeeded())
	assert.Zero(t, out.FixAttempts)
	assert.Len(t, dc.ops, 1)
}

func TestFixer_TransportErrorSurfaces(t *testing.T) {
	dc := &fakeDeploy{script: []func([]project.File) (*Result, error){
		func([]project.File) (*Result, error) { return nil, fmt.Errorf("connection refused") },
	}}
	f := newTestFixer(dc, nil)

	_, err := f.Deploy(context.Background(), "app-1", appFiles, false)
	assert.Error(t, err)
}
