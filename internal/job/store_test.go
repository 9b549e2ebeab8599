package job

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/project"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)

	j, err := s.CreateJob("app-1", "build a todo list", false, false)
	require.NoError(t, err)
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, StatusPending, j.Status)

	got, err := s.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, "app-1", got.AppID)
	assert.Equal(t, "build a todo list", got.Prompt)
	assert.False(t, got.IsFollowUp)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ClaimTransitionsToProcessing(t *testing.T) {
	s := newTestStore(t)
	j, _ := s.CreateJob("app-1", "p", false, false)

	claimed, err := s.ClaimJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, claimed.Status)

	// Re-claiming a processing job is allowed: a crashed worker's job
	// can be restarted.
	again, err := s.ClaimJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, again.Status)
}

func TestStore_TerminalJobsNeverReExecuted(t *testing.T) {
	s := newTestStore(t)

	j, _ := s.CreateJob("app-1", "p", false, false)
	_, err := s.ClaimJob(j.ID)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(j.ID, "https://preview.test"))

	_, err = s.ClaimJob(j.ID)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.ErrorIs(t, s.CompleteJob(j.ID, "x"), ErrTerminal)
	assert.ErrorIs(t, s.FailJob(j.ID, "x"), ErrTerminal)

	got, _ := s.GetJob(j.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "https://preview.test", got.PreviewURL)
}

func TestStore_FailedIsAlsoTerminal(t *testing.T) {
	s := newTestStore(t)
	j, _ := s.CreateJob("app-1", "p", false, false)
	require.NoError(t, s.FailJob(j.ID, "deployment failed"))

	_, err := s.ClaimJob(j.ID)
	assert.ErrorIs(t, err, ErrTerminal)

	got, _ := s.GetJob(j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "deployment failed", got.Error)
}

func TestStore_NextPendingOrder(t *testing.T) {
	s := newTestStore(t)

	none, err := s.NextPending()
	require.NoError(t, err)
	assert.Nil(t, none)

	first, _ := s.CreateJob("app-1", "first", false, false)
	_, _ = s.CreateJob("app-1", "second", true, true)

	next, err := s.NextPending()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)

	_, err = s.ClaimJob(first.ID)
	require.NoError(t, err)
	next, err = s.NextPending()
	require.NoError(t, err)
	assert.Equal(t, "second", next.Prompt)
	assert.True(t, next.UseDiffBased)
}

func TestStore_Patches(t *testing.T) {
	s := newTestStore(t)
	j, _ := s.CreateJob("app-1", "p", true, true)

	require.NoError(t, s.SavePatch(j.ID, "src/app/page.tsx", "--- a/src/app/page.tsx\n+++ b/src/app/page.tsx\n"))
	require.NoError(t, s.SavePatch(j.ID, "src/lib/store.ts", "diff2"))

	patches, err := s.ListPatches(j.ID)
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "src/app/page.tsx", patches[0].Filename)
	assert.Equal(t, "src/lib/store.ts", patches[1].Filename)
}

func TestStore_AppFilesRoundTrip(t *testing.T) {
	s := newTestStore(t)

	missing, err := s.GetAppFiles("app-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	files := []project.File{
		{Name: "package.json", Content: "{}\n"},
		{Name: "src/app/page.tsx", Content: "export default function Home() {}\n"},
	}
	require.NoError(t, s.SaveAppFiles("app-1", files))

	got, err := s.GetAppFiles("app-1")
	require.NoError(t, err)
	assert.Equal(t, files, got)

	// Upsert replaces wholesale.
	files[1].Content = "updated\n"
	require.NoError(t, s.SaveAppFiles("app-1", files))
	got, _ = s.GetAppFiles("app-1")
	assert.Equal(t, "updated\n", got[1].Content)
}

func TestStore_ListJobsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.CreateJob("app-1", "a", false, false)
	b, _ := s.CreateJob("app-1", "b", true, false)
	_, _ = s.CreateJob("app-2", "other", false, false)

	jobs, err := s.ListJobs("app-1", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	ids := []string{jobs[0].ID, jobs[1].ID}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}

func TestStore_MigrationIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	j, _ := s.CreateJob("app-1", "p", false, false)
	require.NoError(t, s.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusPending.Valid())
	assert.False(t, Status("stuck").Valid())
	if !errors.Is(ErrTerminal, ErrTerminal) {
		t.Fatal("sentinel identity")
	}
}
