package job

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"appforge/internal/logging"
	"appforge/internal/project"
)

// ErrTerminal is returned when a transition is attempted on a job that
// already reached completed or failed.
var ErrTerminal = errors.New("job is in a terminal state")

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// Store persists jobs, their resulting patches, and each app's current
// file set in SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the job database at path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("job store ready at %s", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			app_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			is_follow_up INTEGER NOT NULL DEFAULT 0,
			use_diff_based INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT NOT NULL DEFAULT '',
			preview_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_app ON jobs(app_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS patches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			filename TEXT NOT NULL,
			unified_diff TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patches_job ON patches(job_id)`,
		`CREATE TABLE IF NOT EXISTS app_files (
			app_id TEXT PRIMARY KEY,
			files TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate job schema: %w", err)
		}
	}

	// Additive column migrations for databases created by older builds.
	columns := []struct {
		table, column, definition string
	}{
		{"jobs", "preview_url", "TEXT NOT NULL DEFAULT ''"},
		{"jobs", "use_diff_based", "INTEGER NOT NULL DEFAULT 0"},
	}
	for _, c := range columns {
		if s.columnExists(c.table, c.column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.definition)
		if _, err := s.db.Exec(stmt); err != nil {
			logging.StoreDebug("add column %s.%s: %v", c.table, c.column, err)
		}
	}
	return nil
}

func (s *Store) columnExists(table, column string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// CreateJob inserts a pending job and returns it with a fresh id.
func (s *Store) CreateJob(appID, prompt string, isFollowUp, useDiffBased bool) (*Job, error) {
	now := time.Now().UTC()
	j := &Job{
		ID:           uuid.NewString(),
		AppID:        appID,
		Prompt:       prompt,
		IsFollowUp:   isFollowUp,
		UseDiffBased: useDiffBased,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, app_id, prompt, is_follow_up, use_diff_based, status, error, preview_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?)`,
		j.ID, j.AppID, j.Prompt, boolInt(j.IsFollowUp), boolInt(j.UseDiffBased), string(j.Status), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	logging.Job("created job %s for app %s (followUp=%v diff=%v)", j.ID, appID, isFollowUp, useDiffBased)
	return j, nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(
		`SELECT id, app_id, prompt, is_follow_up, use_diff_based, status, error, preview_url, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns an app's jobs, newest first.
func (s *Store) ListJobs(appID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, app_id, prompt, is_follow_up, use_diff_based, status, error, preview_url, created_at, updated_at
		 FROM jobs WHERE app_id = ? ORDER BY created_at DESC LIMIT ?`, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// NextPending returns the oldest pending job, or nil when the queue is
// empty.
func (s *Store) NextPending() (*Job, error) {
	row := s.db.QueryRow(
		`SELECT id, app_id, prompt, is_follow_up, use_diff_based, status, error, preview_url, created_at, updated_at
		 FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`, string(StatusPending))
	j, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return j, err
}

// ClaimJob transitions a job to processing for execution. Claiming a
// pending job is the normal path; re-claiming a processing job is
// allowed so a crashed worker's job can be restarted. Terminal jobs are
// never re-executed.
func (s *Store) ClaimJob(id string) (*Job, error) {
	j, err := s.GetJob(id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, fmt.Errorf("claim job %s (%s): %w", id, j.Status, ErrTerminal)
	}

	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(StatusProcessing), time.Now().UTC(), id, string(StatusPending), string(StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost a race with a completing worker.
		return nil, fmt.Errorf("claim job %s: %w", id, ErrTerminal)
	}
	if j.Status == StatusProcessing {
		logging.Job("re-claimed processing job %s", id)
	}
	j.Status = StatusProcessing
	return j, nil
}

// CompleteJob marks a job completed with its preview URL. Completing an
// already terminal job returns ErrTerminal.
func (s *Store) CompleteJob(id, previewURL string) error {
	return s.finish(id, StatusCompleted, "", previewURL)
}

// FailJob marks a job failed with its error message.
func (s *Store) FailJob(id, errMsg string) error {
	return s.finish(id, StatusFailed, errMsg, "")
}

func (s *Store) finish(id string, status Status, errMsg, previewURL string) error {
	res, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error = ?, preview_url = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(status), errMsg, previewURL, time.Now().UTC(),
		id, string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		j, gerr := s.GetJob(id)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("finish job %s (%s): %w", id, j.Status, ErrTerminal)
	}
	logging.Job("job %s -> %s", id, status)
	return nil
}

// SavePatch records one file diff for a job.
func (s *Store) SavePatch(jobID, filename, unifiedDiff string) error {
	_, err := s.db.Exec(
		`INSERT INTO patches (job_id, filename, unified_diff, created_at) VALUES (?, ?, ?, ?)`,
		jobID, filename, unifiedDiff, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save patch: %w", err)
	}
	return nil
}

// ListPatches returns a job's patches in insertion order.
func (s *Store) ListPatches(jobID string) ([]*Patch, error) {
	rows, err := s.db.Query(
		`SELECT id, job_id, filename, unified_diff, created_at FROM patches WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	defer rows.Close()

	var patches []*Patch
	for rows.Next() {
		p := &Patch{}
		if err := rows.Scan(&p.ID, &p.JobID, &p.Filename, &p.UnifiedDiff, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		patches = append(patches, p)
	}
	return patches, rows.Err()
}

// SaveAppFiles stores the app's current file set as JSON.
func (s *Store) SaveAppFiles(appID string, files []project.File) error {
	payload, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal app files: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO app_files (app_id, files, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(app_id) DO UPDATE SET files = excluded.files, updated_at = excluded.updated_at`,
		appID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save app files: %w", err)
	}
	return nil
}

// GetAppFiles loads the app's current file set; a missing app yields an
// empty set, not an error.
func (s *Store) GetAppFiles(appID string) ([]project.File, error) {
	var payload string
	err := s.db.QueryRow(`SELECT files FROM app_files WHERE app_id = ?`, appID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load app files: %w", err)
	}
	var files []project.File
	if err := json.Unmarshal([]byte(payload), &files); err != nil {
		return nil, fmt.Errorf("decode app files: %w", err)
	}
	return files, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var isFollowUp, useDiff int
	var status string
	err := row.Scan(&j.ID, &j.AppID, &j.Prompt, &isFollowUp, &useDiff, &status, &j.Error, &j.PreviewURL, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.IsFollowUp = isFollowUp != 0
	j.UseDiffBased = useDiff != 0
	j.Status = Status(status)
	return j, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
