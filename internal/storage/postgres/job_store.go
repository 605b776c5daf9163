// Package postgres provides the Postgres-backed job store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

const defaultTable = "jobs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore implements crawler.JobStore on a single table keyed by job id.
type JobStore struct {
	pool  pool
	table string
}

// NewJobStore connects a pool using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the jobs table when it does not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id             TEXT PRIMARY KEY,
	company        TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	posted_on      TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	source_tag     TEXT NOT NULL DEFAULT '',
	relevance      SMALLINT NOT NULL DEFAULT 0,
	reason         TEXT NOT NULL DEFAULT '',
	tech_stack     TEXT[] NOT NULL DEFAULT '{}',
	years_required INTEGER NOT NULL DEFAULT 0,
	notified       BOOLEAN NOT NULL DEFAULT FALSE,
	discovered_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_relevance_idx ON %[1]s (relevance, notified)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Exists reports whether id is stored.
func (s *JobStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check job %s: %w", id, err)
	}
	return exists, nil
}

// Insert stores job. An existing id yields crawler.ErrDuplicate.
func (s *JobStore) Insert(ctx context.Context, job crawler.StoredJob) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	techStack := job.TechStack
	if techStack == nil {
		techStack = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	company,
	title,
	location,
	url,
	posted_on,
	description,
	source_tag,
	relevance,
	reason,
	tech_stack,
	years_required,
	notified,
	discovered_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (id) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Company,
		job.Title,
		job.Location,
		job.URL,
		job.PostedOn,
		job.Description,
		job.SourceTag,
		int(job.Relevance),
		job.Reason,
		techStack,
		job.YearsRequired,
		job.Notified,
		job.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert job %s: %w", job.ID, crawler.ErrDuplicate)
	}
	return nil
}

const selectColumns = `id, company, title, location, url, posted_on, description, source_tag,
	relevance, reason, tech_stack, years_required, notified, discovered_at`

// Get fetches a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (crawler.StoredJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.StoredJob{}, fmt.Errorf("get job %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.StoredJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListByRelevance returns jobs with the given relevance, oldest first.
func (s *JobStore) ListByRelevance(ctx context.Context, relevance crawler.Relevance) ([]crawler.StoredJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE relevance = $1 ORDER BY discovered_at, id`,
		selectColumns, s.table)
	return s.list(ctx, query, int(relevance))
}

// ListUnnotified returns relevant jobs that have not been sent yet.
func (s *JobStore) ListUnnotified(ctx context.Context) ([]crawler.StoredJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE relevance = $1 AND NOT notified ORDER BY discovered_at, id`,
		selectColumns, s.table)
	return s.list(ctx, query, int(crawler.RelevanceRelevant))
}

// UpdateClassification records a classifier verdict.
func (s *JobStore) UpdateClassification(
	ctx context.Context,
	id string,
	relevance crawler.Relevance,
	c crawler.Classification,
) error {
	techStack := c.TechStack
	if techStack == nil {
		techStack = []string{}
	}
	query := fmt.Sprintf(`
UPDATE %s
SET relevance = $1, reason = $2, tech_stack = $3, years_required = $4
WHERE id = $5`, s.table)
	tag, err := s.pool.Exec(ctx, query, int(relevance), c.Reason, techStack, c.YearsRequired, id)
	if err != nil {
		return fmt.Errorf("classify job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("classify job %s: %w", id, crawler.ErrNotFound)
	}
	return nil
}

// MarkNotified flags ids as sent.
func (s *JobStore) MarkNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET notified = TRUE WHERE id = ANY($1)`, s.table)
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

func (s *JobStore) list(ctx context.Context, query string, args ...any) ([]crawler.StoredJob, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

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

func scanJob(row pgx.Row) (crawler.StoredJob, error) {
	var (
		job       crawler.StoredJob
		relevance int
	)
	err := row.Scan(
		&job.ID,
		&job.Company,
		&job.Title,
		&job.Location,
		&job.URL,
		&job.PostedOn,
		&job.Description,
		&job.SourceTag,
		&relevance,
		&job.Reason,
		&job.TechStack,
		&job.YearsRequired,
		&job.Notified,
		&job.DiscoveredAt,
	)
	if err != nil {
		return crawler.StoredJob{}, err
	}
	job.Relevance = crawler.Relevance(relevance)
	return job, nil
}
