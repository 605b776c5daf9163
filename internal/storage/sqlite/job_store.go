// Package sqlite provides a single-file job store for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	company        TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	posted_on      TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	source_tag     TEXT NOT NULL DEFAULT '',
	is_relevant    INTEGER NOT NULL DEFAULT 0,
	ai_reason      TEXT NOT NULL DEFAULT '',
	tech_stack     TEXT NOT NULL DEFAULT '[]',
	years_required INTEGER NOT NULL DEFAULT 0,
	sent_email     INTEGER NOT NULL DEFAULT 0,
	found_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_relevance_idx ON jobs (is_relevant, sent_email);`

const selectColumns = `id, company, title, location, url, posted_on, description, source_tag,
	is_relevant, ai_reason, tech_stack, years_required, sent_email, found_at`

// JobStore implements crawler.JobStore on SQLite.
type JobStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*JobStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &JobStore{db: db}, nil
}

// Close closes the database.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Exists reports whether id is stored.
func (s *JobStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check job %s: %w", id, err)
	}
	return true, nil
}

// Insert stores job. An existing id yields crawler.ErrDuplicate.
func (s *JobStore) Insert(ctx context.Context, job crawler.StoredJob) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	stack, err := encodeStack(job.TechStack)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO jobs (
			id, company, title, location, url, posted_on, description, source_tag,
			is_relevant, ai_reason, tech_stack, years_required, sent_email, found_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Company, job.Title, job.Location, job.URL, job.PostedOn, job.Description, job.SourceTag,
		int(job.Relevance), job.Reason, stack, job.YearsRequired, job.Notified,
		job.DiscoveredAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("insert job %s: %w", job.ID, crawler.ErrDuplicate)
	}
	return nil
}

// Get fetches a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (crawler.StoredJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.StoredJob{}, fmt.Errorf("get job %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.StoredJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListByRelevance returns jobs with the given relevance, oldest first.
func (s *JobStore) ListByRelevance(ctx context.Context, relevance crawler.Relevance) ([]crawler.StoredJob, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM jobs WHERE is_relevant = ? ORDER BY found_at, id`,
		int(relevance))
}

// ListUnnotified returns relevant jobs that have not been emailed yet.
func (s *JobStore) ListUnnotified(ctx context.Context) ([]crawler.StoredJob, error) {
	return s.list(ctx,
		`SELECT `+selectColumns+` FROM jobs WHERE is_relevant = ? AND sent_email = 0 ORDER BY found_at, id`,
		int(crawler.RelevanceRelevant))
}

// UpdateClassification records a classifier verdict.
func (s *JobStore) UpdateClassification(
	ctx context.Context,
	id string,
	relevance crawler.Relevance,
	c crawler.Classification,
) error {
	stack, err := encodeStack(c.TechStack)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET is_relevant = ?, ai_reason = ?, tech_stack = ?, years_required = ? WHERE id = ?`,
		int(relevance), c.Reason, stack, c.YearsRequired, id)
	if err != nil {
		return fmt.Errorf("classify job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("classify job %s: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// MarkNotified flags ids as emailed in one transaction.
func (s *JobStore) MarkNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark notified: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `UPDATE jobs SET sent_email = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare mark notified: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("mark %s notified: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark notified: %w", err)
	}
	committed = true
	return nil
}

func (s *JobStore) list(ctx context.Context, query string, args ...any) ([]crawler.StoredJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var jobs []crawler.StoredJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (crawler.StoredJob, error) {
	var (
		job       crawler.StoredJob
		relevance int
		stack     string
		foundAt   string
	)
	err := row.Scan(
		&job.ID, &job.Company, &job.Title, &job.Location, &job.URL, &job.PostedOn, &job.Description,
		&job.SourceTag, &relevance, &job.Reason, &stack, &job.YearsRequired, &job.Notified, &foundAt,
	)
	if err != nil {
		return crawler.StoredJob{}, err
	}
	job.Relevance = crawler.Relevance(relevance)
	if err := json.Unmarshal([]byte(stack), &job.TechStack); err != nil {
		return crawler.StoredJob{}, fmt.Errorf("decode tech stack of %s: %w", job.ID, err)
	}
	if job.DiscoveredAt, err = time.Parse(time.RFC3339Nano, foundAt); err != nil {
		return crawler.StoredJob{}, fmt.Errorf("parse found_at of %s: %w", job.ID, err)
	}
	return job, nil
}

func encodeStack(stack []string) (string, error) {
	if stack == nil {
		stack = []string{}
	}
	raw, err := json.Marshal(stack)
	if err != nil {
		return "", fmt.Errorf("encode tech stack: %w", err)
	}
	return string(raw), nil
}
