package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vista/pkg/models"
)

var ErrDuplicateKey = errors.New("duplicate key violation")

var jobColumns = []string{
	"id", "template_id", "template_name", "state", "provider_handle", "provider_endpoint",
	"queue_position", "input_url", "result_url", "error_message",
	"created_at", "updated_at", "completed_at",
}

// PostgresStore implements JobStore using pgx/v5, with squirrel building the dynamic SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	sq   sq.StatementBuilderType
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		sq:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Job, error) {
	q := s.sq.Select(jobColumns...).From("jobs").OrderBy("created_at DESC", "id DESC")
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		q = q.Where(sq.Eq{"state": states})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list jobs query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	query, args, err := s.sq.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get job query: %w", err)
	}
	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	if err := prepareCreate(job); err != nil {
		return err
	}

	query, args, err := s.sq.Insert("jobs").Columns(jobColumns...).Values(
		job.ID, job.TemplateID, job.TemplateName, string(job.State), job.ProviderHandle, job.ProviderEndpoint,
		job.QueuePosition, job.InputURL, job.ResultURL, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	).ToSql()
	if err != nil {
		return fmt.Errorf("build create job query: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Update locks the row for the duration of the read-modify-write.
func (s *PostgresStore) Update(ctx context.Context, id string, opts ...JobUpdateOption) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query, args, err := s.sq.Select(jobColumns...).From("jobs").Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lock job query: %w", err)
	}
	current, err := scanJob(tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job for update: %w", err)
	}

	next, err := current.Apply(buildPatch(opts), timestamp())
	if err != nil {
		return nil, err
	}

	query, args, err = s.sq.Update("jobs").SetMap(map[string]any{
		"state":             string(next.State),
		"provider_handle":   next.ProviderHandle,
		"provider_endpoint": next.ProviderEndpoint,
		"queue_position":    next.QueuePosition,
		"input_url":         next.InputURL,
		"result_url":        next.ResultURL,
		"error_message":     next.ErrorMessage,
		"updated_at":        next.UpdatedAt,
		"completed_at":      next.CompletedAt,
	}).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update job query: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update job: %w", err)
	}
	return &next, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query, args, err := s.sq.Delete("jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete job query: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var state string
	err := row.Scan(&j.ID, &j.TemplateID, &j.TemplateName, &state, &j.ProviderHandle, &j.ProviderEndpoint,
		&j.QueuePosition, &j.InputURL, &j.ResultURL, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	j.State = models.JobState(state)
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
