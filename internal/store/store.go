package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/repomind/repomind/pkg/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore is the persistence surface the indexing pipeline needs.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunks(ctx context.Context, repositoryID int64) error
}

// ChunkSearcher is the retrieval surface context building needs.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, repositoryID int64, vec []float32, k int) ([]models.ChunkSnippet, error)
}

// AuditStore is the persistence surface the orchestrator needs.
type AuditStore interface {
	GetRepository(ctx context.Context, id int64) (models.Repository, error)
	CreateAuditRun(ctx context.Context, run models.AuditRun) (int64, error)
	GetAuditRun(ctx context.Context, id int64) (models.AuditRun, error)
	UpdateAuditRun(ctx context.Context, run models.AuditRun) error
	InsertFindings(ctx context.Context, findings []models.Finding) error
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies necessary database migrations and schema setup.
// dim is the embedding dimension of the configured provider.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS repositories (
  id         BIGSERIAL PRIMARY KEY,
  owner      TEXT NOT NULL,
  name       TEXT NOT NULL,
  url        TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP WITH TIME ZONE DEFAULT now(),
  UNIQUE (owner, name)
);

CREATE TABLE IF NOT EXISTS chunks (
  id            BIGSERIAL PRIMARY KEY,
  repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
  path          TEXT NOT NULL,
  language      TEXT,
  start_offset  INT NOT NULL,
  end_offset    INT NOT NULL,
  content       TEXT,
  embedding     vector(%d),
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_repository_idx
  ON chunks (repository_id);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_l2_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS audit_runs (
  id                  BIGSERIAL PRIMARY KEY,
  repository_id       BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
  status              TEXT NOT NULL,
  started_at          TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  completed_at        TIMESTAMP WITH TIME ZONE,
  total_files_scanned INT NOT NULL DEFAULT 0,
  files_with_issues   INT NOT NULL DEFAULT 0,
  critical_count      INT NOT NULL DEFAULT 0,
  warning_count       INT NOT NULL DEFAULT 0,
  info_count          INT NOT NULL DEFAULT 0,
  progress_percentage INT NOT NULL DEFAULT 0,
  current_file        TEXT NOT NULL DEFAULT '',
  error_message       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS audit_runs_repository_idx
  ON audit_runs (repository_id, started_at DESC);

CREATE TABLE IF NOT EXISTS findings (
  id           BIGSERIAL PRIMARY KEY,
  audit_run_id BIGINT NOT NULL REFERENCES audit_runs(id) ON DELETE CASCADE,
  file_path    TEXT NOT NULL,
  line_number  INT,
  severity     TEXT NOT NULL,
  category     TEXT NOT NULL DEFAULT '',
  language     TEXT NOT NULL DEFAULT '',
  title        TEXT NOT NULL,
  message      TEXT NOT NULL DEFAULT '',
  suggestion   TEXT NOT NULL DEFAULT '',
  code_snippet TEXT NOT NULL DEFAULT '',
  metadata     JSONB,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS findings_run_idx
  ON findings (audit_run_id);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// CreateRepository registers a repository, returning the existing row's
// ID when (owner, name) is already known.
func (s *Store) CreateRepository(ctx context.Context, r models.Repository) (int64, error) {
	const q = `
		INSERT INTO repositories (owner, name, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner, name) DO UPDATE SET url = EXCLUDED.url
		RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, q, r.Owner, r.Name, r.URL).Scan(&id)
	return id, err
}

// GetRepository fetches one repository by ID.
func (s *Store) GetRepository(ctx context.Context, id int64) (models.Repository, error) {
	const q = `SELECT id, owner, name, url, created_at FROM repositories WHERE id = $1`
	var r models.Repository
	err := s.pool.QueryRow(ctx, q, id).Scan(&r.ID, &r.Owner, &r.Name, &r.URL, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Repository{}, ErrNotFound
	}
	return r, err
}

// ListRepositories returns all registered repositories.
func (s *Store) ListRepositories(ctx context.Context) ([]models.Repository, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, name, url, created_at FROM repositories ORDER BY owner, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		var r models.Repository
		if err := rows.Scan(&r.ID, &r.Owner, &r.Name, &r.URL, &r.CreatedAt); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// InsertChunks persists a batch of chunks in one round trip.
func (s *Store) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	const q = `
		INSERT INTO chunks (repository_id, path, language, start_offset, end_offset, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		var emb any
		if c.Embedding != nil {
			emb = pgvector.NewVector(c.Embedding)
		} else {
			emb = (*pgvector.Vector)(nil)
		}
		batch.Queue(q, c.RepositoryID, c.Path, c.Language, c.StartOffset, c.EndOffset, c.Content, emb)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting chunk batch: %w", err)
		}
	}
	return nil
}

// DeleteChunks removes every chunk belonging to the repository.
func (s *Store) DeleteChunks(ctx context.Context, repositoryID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE repository_id = $1`, repositoryID)
	return err
}

// SearchChunks returns the k nearest chunks to vec within the
// repository. The select list deliberately excludes the embedding
// column; results are snippets only. A repository with no chunks
// returns an empty slice and no error.
func (s *Store) SearchChunks(ctx context.Context, repositoryID int64, vec []float32, k int) ([]models.ChunkSnippet, error) {
	const q = `
		SELECT path, COALESCE(language, ''), start_offset, end_offset, COALESCE(content, '')
		FROM chunks
		WHERE repository_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <-> $2::vector
		LIMIT $3`

	rows, err := s.pool.Query(ctx, q, repositoryID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ChunkSnippet{}
	for rows.Next() {
		var c models.ChunkSnippet
		if err := rows.Scan(&c.Path, &c.Language, &c.StartOffset, &c.EndOffset, &c.Content); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountChunks reports how many chunks a repository has.
func (s *Store) CountChunks(ctx context.Context, repositoryID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE repository_id = $1`, repositoryID).Scan(&n)
	return n, err
}

// CreateAuditRun inserts a new run and returns its ID.
func (s *Store) CreateAuditRun(ctx context.Context, run models.AuditRun) (int64, error) {
	const q = `
		INSERT INTO audit_runs (repository_id, status, started_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, q, run.RepositoryID, run.Status, run.StartedAt).Scan(&id)
	return id, err
}

// UpdateAuditRun persists a full snapshot of the run.
func (s *Store) UpdateAuditRun(ctx context.Context, run models.AuditRun) error {
	const q = `
		UPDATE audit_runs SET
			status = $2,
			completed_at = $3,
			total_files_scanned = $4,
			files_with_issues = $5,
			critical_count = $6,
			warning_count = $7,
			info_count = $8,
			progress_percentage = $9,
			current_file = $10,
			error_message = $11
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q,
		run.ID, run.Status, run.CompletedAt,
		run.TotalFilesScanned, run.FilesWithIssues,
		run.CriticalCount, run.WarningCount, run.InfoCount,
		run.ProgressPercentage, run.CurrentFile, run.ErrorMessage)
	return err
}

const auditRunColumns = `
	id, repository_id, status, started_at, completed_at,
	total_files_scanned, files_with_issues, critical_count, warning_count,
	info_count, progress_percentage, current_file, error_message`

func scanAuditRun(row pgx.Row) (models.AuditRun, error) {
	var run models.AuditRun
	err := row.Scan(
		&run.ID, &run.RepositoryID, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.TotalFilesScanned, &run.FilesWithIssues, &run.CriticalCount,
		&run.WarningCount, &run.InfoCount, &run.ProgressPercentage,
		&run.CurrentFile, &run.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AuditRun{}, ErrNotFound
	}
	return run, err
}

// GetAuditRun fetches one run by ID.
func (s *Store) GetAuditRun(ctx context.Context, id int64) (models.AuditRun, error) {
	q := `SELECT ` + auditRunColumns + ` FROM audit_runs WHERE id = $1`
	return scanAuditRun(s.pool.QueryRow(ctx, q, id))
}

// LatestAuditRun fetches the most recently started run for a repository.
func (s *Store) LatestAuditRun(ctx context.Context, repositoryID int64) (models.AuditRun, error) {
	q := `SELECT ` + auditRunColumns + `
		FROM audit_runs WHERE repository_id = $1
		ORDER BY started_at DESC, id DESC LIMIT 1`
	return scanAuditRun(s.pool.QueryRow(ctx, q, repositoryID))
}

// ListAuditRuns returns a repository's runs, newest first.
func (s *Store) ListAuditRuns(ctx context.Context, repositoryID int64) ([]models.AuditRun, error) {
	q := `SELECT ` + auditRunColumns + `
		FROM audit_runs WHERE repository_id = $1
		ORDER BY started_at DESC, id DESC`
	rows, err := s.pool.Query(ctx, q, repositoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.AuditRun
	for rows.Next() {
		run, err := scanAuditRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// InsertFindings persists a batch of findings in one round trip.
func (s *Store) InsertFindings(ctx context.Context, findings []models.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	const q = `
		INSERT INTO findings (
			audit_run_id, file_path, line_number, severity, category,
			language, title, message, suggestion, code_snippet, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	batch := &pgx.Batch{}
	for _, f := range findings {
		batch.Queue(q, f.AuditRunID, f.FilePath, f.LineNumber, f.Severity, f.Category,
			f.Language, f.Title, f.Message, f.Suggestion, f.CodeSnippet, f.Metadata)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range findings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting finding batch: %w", err)
		}
	}
	return nil
}

// ListFindings returns a run's findings ordered by severity then path.
func (s *Store) ListFindings(ctx context.Context, auditRunID int64) ([]models.Finding, error) {
	const q = `
		SELECT id, audit_run_id, file_path, line_number, severity, category,
		       language, title, message, suggestion, code_snippet, metadata, created_at
		FROM findings
		WHERE audit_run_id = $1
		ORDER BY CASE severity
			WHEN 'CRITICAL' THEN 0
			WHEN 'WARNING' THEN 1
			ELSE 2
		END, file_path, id`
	rows, err := s.pool.Query(ctx, q, auditRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []models.Finding
	for rows.Next() {
		var f models.Finding
		if err := rows.Scan(&f.ID, &f.AuditRunID, &f.FilePath, &f.LineNumber,
			&f.Severity, &f.Category, &f.Language, &f.Title, &f.Message,
			&f.Suggestion, &f.CodeSnippet, &f.Metadata, &f.CreatedAt); err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
