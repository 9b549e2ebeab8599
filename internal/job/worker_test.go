package job

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"appforge/internal/config"
	"appforge/internal/deploy"
	"appforge/internal/llm"
	"appforge/internal/pipeline"
	"appforge/internal/project"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedLLM replays per-stage responses in order.
type scriptedLLM struct {
	responses map[string][]string
}

func (c *scriptedLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	queue := c.responses[req.Stage]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted response for stage %s", req.Stage)
	}
	resp := queue[0]
	c.responses[req.Stage] = queue[1:]
	return resp, nil
}

// scriptedDeploy returns canned results in order.
type scriptedDeploy struct {
	results []*deploy.Result
	calls   int
}

func (d *scriptedDeploy) CreatePreview(_ context.Context, _ string, _ []project.File) (*deploy.Result, error) {
	return d.next()
}

func (d *scriptedDeploy) UpdatePreview(_ context.Context, _ string, _ []project.File) (*deploy.Result, error) {
	return d.next()
}

func (d *scriptedDeploy) next() (*deploy.Result, error) {
	if d.calls >= len(d.results) {
		return nil, fmt.Errorf("unscripted deploy call")
	}
	r := d.results[d.calls]
	d.calls++
	return r, nil
}

func newTestWorker(t *testing.T, llmClient llm.Client, dc deploy.Client) (*Worker, *Store) {
	t.Helper()
	store := newTestStore(t)
	pcfg := config.DefaultPipelineConfig()
	pcfg.SkipContextGathering = true
	orch := pipeline.New(
		llm.NewRouter(llmClient, llm.RouterConfig{MaxAttempts: 1}),
		config.LLMConfig{FastModel: "f", BalancedModel: "b", PowerfulModel: "p"},
		pcfg,
		nil,
	)
	fixer := deploy.NewFixer(dc, orch, config.DefaultDeployConfig())
	return NewWorker(store, orch, fixer, DefaultTemplate()), store
}

func TestWorker_InitialJobCompletes(t *testing.T) {
	llmClient := &scriptedLLM{responses: map[string][]string{
		"intent-parsing": {`{"feature": "counter", "needsChanges": true, "storageMode": "local-storage"}`},
		"patch-planning": {`{"patches": [{"filename": "src/app/page.tsx", "operation": "modify", "purpose": "counter"}]}`},
		"code-generation": {`[{"filename": "src/app/page.tsx", "content": "counter app\n"}]`},
	}}
	dc := &scriptedDeploy{results: []*deploy.Result{
		{Status: "ready", PreviewURL: "https://preview.test/app-1"},
	}}
	w, store := newTestWorker(t, llmClient, dc)

	j, err := store.CreateJob("app-1", "build a counter", false, false)
	require.NoError(t, err)
	require.NoError(t, w.Process(context.Background(), j.ID))

	got, err := store.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "https://preview.test/app-1", got.PreviewURL)

	files, err := store.GetAppFiles("app-1")
	require.NoError(t, err)
	page, ok := project.Lookup(files, "src/app/page.tsx")
	require.True(t, ok)
	assert.Equal(t, "counter app\n", page.Content)
	// Template files rode along.
	_, ok = project.Lookup(files, "package.json")
	assert.True(t, ok)
}

func TestWorker_FollowUpSavesPatches(t *testing.T) {
	llmClient := &scriptedLLM{responses: map[string][]string{
		"intent-parsing": {`{"feature": "shout", "needsChanges": true, "storageMode": "local-storage"}`},
		"patch-planning": {`{"patches": [{
			"filename": "src/app/page.tsx",
			"operation": "modify",
			"purpose": "uppercase greeting",
			"diffHunks": [{
				"oldStart": 1, "oldLines": 2, "newStart": 1, "newLines": 2,
				"lines": [" line one", "-hello", "+HELLO"]
			}]
		}]}`},
	}}
	dc := &scriptedDeploy{results: []*deploy.Result{
		{Status: "ready", PreviewURL: "https://preview.test/v2"},
	}}
	w, store := newTestWorker(t, llmClient, dc)

	require.NoError(t, store.SaveAppFiles("app-1", []project.File{
		{Name: "src/app/page.tsx", Content: "line one\nhello\nline three\n"},
	}))
	j, _ := store.CreateJob("app-1", "make it uppercase", true, true)
	require.NoError(t, w.Process(context.Background(), j.ID))

	got, _ := store.GetJob(j.ID)
	assert.Equal(t, StatusCompleted, got.Status)

	files, _ := store.GetAppFiles("app-1")
	page, _ := project.Lookup(files, "src/app/page.tsx")
	assert.Equal(t, "line one\nHELLO\nline three\n", page.Content)

	patches, err := store.ListPatches(j.ID)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, "src/app/page.tsx", patches[0].Filename)
	assert.Contains(t, patches[0].UnifiedDiff, "+HELLO")
}

func TestWorker_TerminalJobSkipped(t *testing.T) {
	llmClient := &scriptedLLM{responses: map[string][]string{}}
	dc := &scriptedDeploy{}
	w, store := newTestWorker(t, llmClient, dc)

	j, _ := store.CreateJob("app-1", "p", false, false)
	require.NoError(t, store.FailJob(j.ID, "earlier failure"))

	// No LLM or deploy calls are scripted: any execution would error.
	require.NoError(t, w.Process(context.Background(), j.ID))
	assert.Zero(t, dc.calls)

	got, _ := store.GetJob(j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "earlier failure", got.Error)
}

func TestWorker_DeploymentExhaustionFailsButPersistsFiles(t *testing.T) {
	llmClient := &scriptedLLM{responses: map[string][]string{
		"intent-parsing": {`{"feature": "counter", "needsChanges": true, "storageMode": "local-storage"}`},
		"patch-planning": {`{"patches": [{"filename": "src/app/page.tsx", "operation": "modify", "purpose": "counter"}]}`},
		"code-generation": {`[{"filename": "src/app/page.tsx", "content": "counter app\n"}]`},
	}}
	// Build fails with logs the parser cannot map to errors, so the
	// auto-fix loop abandons immediately.
	dc := &scriptedDeploy{results: []*deploy.Result{
		{Status: "error", DeploymentError: "Build failed", DeploymentLogs: "opaque failure"},
	}}
	w, store := newTestWorker(t, llmClient, dc)

	j, _ := store.CreateJob("app-1", "build a counter", false, false)
	err := w.Process(context.Background(), j.ID)
	require.Error(t, err)

	got, _ := store.GetJob(j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "Build failed")

	// The generated files survived the failure.
	files, ferr := store.GetAppFiles("app-1")
	require.NoError(t, ferr)
	page, ok := project.Lookup(files, "src/app/page.tsx")
	require.True(t, ok)
	assert.Equal(t, "counter app\n", page.Content)
}

func TestWorker_FailedFollowUpWritesNoPatches(t *testing.T) {
	llmClient := &scriptedLLM{responses: map[string][]string{
		"intent-parsing": {`{"feature": "shout", "needsChanges": true, "storageMode": "local-storage"}`},
		"patch-planning": {`{"patches": [{
			"filename": "src/app/page.tsx",
			"operation": "modify",
			"purpose": "uppercase greeting",
			"diffHunks": [{
				"oldStart": 1, "oldLines": 2, "newStart": 1, "newLines": 2,
				"lines": [" line one", "-hello", "+HELLO"]
			}]
		}]}`},
	}}
	dc := &scriptedDeploy{results: []*deploy.Result{
		{Status: "error", DeploymentError: "Build failed", DeploymentLogs: "opaque failure"},
	}}
	w, store := newTestWorker(t, llmClient, dc)

	require.NoError(t, store.SaveAppFiles("app-1", []project.File{
		{Name: "src/app/page.tsx", Content: "line one\nhello\nline three\n"},
	}))
	j, _ := store.CreateJob("app-1", "make it uppercase", true, true)
	require.Error(t, w.Process(context.Background(), j.ID))

	got, _ := store.GetJob(j.ID)
	assert.Equal(t, StatusFailed, got.Status)

	// The edit never reached a live preview, so no rollback record exists,
	// but the edited files are still kept for the next attempt.
	patches, err := store.ListPatches(j.ID)
	require.NoError(t, err)
	assert.Empty(t, patches)

	files, _ := store.GetAppFiles("app-1")
	page, ok := project.Lookup(files, "src/app/page.tsx")
	require.True(t, ok)
	assert.Equal(t, "line one\nHELLO\nline three\n", page.Content)
}

func TestWorker_NoChangesCompletesWithoutDeploy(t *testing.T) {
	llmClient := &scriptedLLM{responses: map[string][]string{
		"intent-parsing": {`{"feature": "praise", "needsChanges": false, "storageMode": "local-storage"}`},
	}}
	dc := &scriptedDeploy{}
	w, store := newTestWorker(t, llmClient, dc)

	require.NoError(t, store.SaveAppFiles("app-1", []project.File{{Name: "a.ts", Content: "x\n"}}))
	j, _ := store.CreateJob("app-1", "looks great!", true, true)
	require.NoError(t, w.Process(context.Background(), j.ID))

	got, _ := store.GetJob(j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Zero(t, dc.calls)
}
