package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notifyhub/internal/domain"
)

const templateColumns = `id, name, title, message_template, type, category, channels,
	priority, variables, is_active, created_by, created_at, updated_at`

type PgTemplateStore struct {
	pool *pgxpool.Pool
}

func NewPgTemplateStore(pool *pgxpool.Pool) *PgTemplateStore {
	return &PgTemplateStore{pool: pool}
}

// Create relies on the templates_name_key constraint for uniqueness.
func (r *PgTemplateStore) Create(ctx context.Context, t *domain.Template) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO templates (`+templateColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.Name, t.Title, t.MessageTemplate, t.Type, t.Category, toStrings(t.Channels),
		t.Priority, nonNil(t.Variables), t.IsActive, t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err, "templates_name_key") {
		return domain.ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *PgTemplateStore) Get(ctx context.Context, id string) (*domain.Template, error) {
	t, err := scanTemplate(r.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

func (r *PgTemplateStore) List(ctx context.Context, activeOnly bool) ([]*domain.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates`
	if activeOnly {
		query += ` WHERE is_active`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []*domain.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PgTemplateStore) Update(ctx context.Context, id string, fn UpdateFunc[domain.Template]) (*domain.Template, error) {
	var out *domain.Template
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		t, err := scanTemplate(tx.QueryRow(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE templates
			SET title = $2, message_template = $3, type = $4, category = $5, channels = $6,
			    priority = $7, variables = $8, is_active = $9, updated_at = $10
			WHERE id = $1`,
			id, t.Title, t.MessageTemplate, t.Type, t.Category, toStrings(t.Channels),
			t.Priority, nonNil(t.Variables), t.IsActive, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		out = t
		return nil
	})
	return out, err
}

func scanTemplate(row pgx.Row) (*domain.Template, error) {
	var (
		t        domain.Template
		channels []string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Title, &t.MessageTemplate, &t.Type, &t.Category, &channels,
		&t.Priority, &t.Variables, &t.IsActive, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Channels = fromStrings[domain.Channel](channels)
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
