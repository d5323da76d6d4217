package catalog

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vista/pkg/models"
)

var templateColumns = []string{
	"id", "name", "description", "preview_url", "category", "subcategory", "model_endpoint", "model_kind",
	"input_type", "input_recommendation", "request_shape", "keywords", "is_active", "created_at",
}

// PostgresCatalog reads templates from the templates table.
type PostgresCatalog struct {
	pool *pgxpool.Pool
	sq   sq.StatementBuilderType
}

func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{
		pool: pool,
		sq:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (c *PostgresCatalog) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	query, args, err := c.sq.Select(templateColumns...).From("templates").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get template query: %w", err)
	}
	t, err := scanTemplate(c.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (c *PostgresCatalog) ListTemplates(ctx context.Context, filter Filter) ([]*models.Template, error) {
	q := c.sq.Select(templateColumns...).From("templates").OrderBy("created_at DESC", "id")
	if filter.Category != "" {
		q = q.Where(sq.Eq{"category": filter.Category})
	}
	if filter.Active != nil {
		q = q.Where(sq.Eq{"is_active": *filter.Active})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list templates query: %w", err)
	}
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := []*models.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Upsert writes templates by id, replacing any existing row. Used by the seeding command.
func (c *PostgresCatalog) Upsert(ctx context.Context, templates []models.Template) (int, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert templates: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range templates {
		shape := t.RequestShape
		if shape == nil {
			shape = map[string]string{}
		}
		keywords := t.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		query, args, err := c.sq.Insert("templates").Columns(templateColumns[:13]...).Values(
			t.ID, t.Name, t.Description, t.PreviewURL, t.Category, t.Subcategory, t.ModelEndpoint,
			string(t.ModelKind), string(t.InputType), t.InputRecommendation, shape, keywords, t.IsActive,
		).Suffix(`ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, preview_url = EXCLUDED.preview_url,
			category = EXCLUDED.category, subcategory = EXCLUDED.subcategory,
			model_endpoint = EXCLUDED.model_endpoint, model_kind = EXCLUDED.model_kind,
			input_type = EXCLUDED.input_type, input_recommendation = EXCLUDED.input_recommendation,
			request_shape = EXCLUDED.request_shape, keywords = EXCLUDED.keywords, is_active = EXCLUDED.is_active`).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("build upsert template query: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("upsert template %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit templates: %w", err)
	}
	return len(templates), nil
}

func scanTemplate(row pgx.Row) (*models.Template, error) {
	var t models.Template
	var kind, inputType string
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.PreviewURL, &t.Category, &t.Subcategory,
		&t.ModelEndpoint, &kind, &inputType, &t.InputRecommendation, &t.RequestShape, &t.Keywords,
		&t.IsActive, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.ModelKind = models.ModelKind(kind)
	t.InputType = models.InputType(inputType)
	return &t, nil
}
