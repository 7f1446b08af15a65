package job

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/image-transformer/internal/model"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrAlreadyTerminal = model.ErrAlreadyTerminal
)

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// Dialect selects placeholder style and schema.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// executor is satisfied by both *dbpg.DB and *sql.DB.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository provides persistence for job records.
type Repository struct {
	db      executor
	dialect Dialect
}

// NewRepository creates a Postgres-backed Repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db, dialect: DialectPostgres}
}

// NewSQLiteRepository creates a SQLite-backed Repository.
func NewSQLiteRepository(db *sql.DB) *Repository {
	return &Repository{db: db, dialect: DialectSQLite}
}

const jobColumns = `id, owner_token, original_filename, original_key, original_url,
		processed_key, processed_url, status, error_message, created_at, updated_at`

// Migrate creates the jobs table and its indexes if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if r.dialect == DialectSQLite {
		schema = sqliteSchema
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}

		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: failed to apply schema: %w", err)
		}
	}

	return nil
}

// Create inserts a new job record.
func (r *Repository) Create(ctx context.Context, job model.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		job.ID, job.OwnerToken, job.OriginalFilename, job.OriginalKey, job.OriginalURL,
		nullString(job.ProcessedKey), nullString(job.ProcessedURL), string(job.Status), nullString(job.ErrorMessage),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create: failed to save job: %w", err)
	}

	return nil
}

// Get retrieves a job record by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, ErrJobNotFound
		}

		return model.Job{}, fmt.Errorf("get: failed to get job: %w", err)
	}

	return job, nil
}

// UpdateTerminal moves a processing job to a terminal status.
// The update only matches rows still in processing, so a second terminal write
// fails with ErrAlreadyTerminal.
func (r *Repository) UpdateTerminal(ctx context.Context, id uuid.UUID, status model.Status, patch model.TerminalPatch) error {
	if err := patch.Check(status); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = ?, processed_key = ?, processed_url = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		string(status), nullString(patch.ProcessedKey), nullString(patch.ProcessedURL), nullString(patch.ErrorMessage),
		time.Now().UTC(), id, string(model.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("update: failed to update job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}

		return ErrAlreadyTerminal
	}

	return nil
}

// Delete deletes a job record by ID.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete: failed to delete job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrJobNotFound
	}

	return nil
}

// ListByOwner returns all jobs of owner, newest first.
func (r *Repository) ListByOwner(ctx context.Context, owner string) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_token = ? ORDER BY created_at DESC`

	return r.list(ctx, "list", query, owner)
}

// ListStuck returns jobs still processing that were created before the cutoff.
func (r *Repository) ListStuck(ctx context.Context, before time.Time) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? AND created_at < ? ORDER BY created_at`

	return r.list(ctx, "list stuck", query, string(model.StatusProcessing), before.UTC())
}

// Count returns the total number of jobs.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: failed to count jobs: %w", err)
	}

	return n, nil
}

// CreatedSince returns creation times of jobs created at or after since.
func (r *Repository) CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT created_at FROM jobs WHERE created_at >= ?`), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("created since: failed to query jobs: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("created since: failed to scan row: %w", err)
		}
		times = append(times, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("created since: failed to iterate rows: %w", err)
	}

	return times, nil
}

// ListKeys returns every stored artifact key (original and processed) across all jobs.
func (r *Repository) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT original_key, processed_key FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("list keys: failed to query jobs: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var (
			original  string
			processed sql.NullString
		)
		if err := rows.Scan(&original, &processed); err != nil {
			return nil, fmt.Errorf("list keys: failed to scan row: %w", err)
		}

		keys = append(keys, original)
		if processed.Valid && processed.String != "" {
			keys = append(keys, processed.String)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys: failed to iterate rows: %w", err)
	}

	return keys, nil
}

func (r *Repository) list(ctx context.Context, op, query string, args ...interface{}) ([]model.Job, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query jobs: %w", op, err)
	}
	defer rows.Close()

	jobs := make([]model.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan row: %w", op, err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: failed to iterate rows: %w", op, err)
	}

	return jobs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (model.Job, error) {
	var (
		job                                      model.Job
		status                                   string
		processedKey, processedURL, errorMessage sql.NullString
	)

	err := s.Scan(
		&job.ID, &job.OwnerToken, &job.OriginalFilename, &job.OriginalKey, &job.OriginalURL,
		&processedKey, &processedURL, &status, &errorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	job.Status = model.Status(status)
	job.ProcessedKey = processedKey.String
	job.ProcessedURL = processedURL.String
	job.ErrorMessage = errorMessage.String

	return job, nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}

	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
