package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notifyhub/internal/domain"
)

type PgPreferenceStore struct {
	pool *pgxpool.Pool
}

func NewPgPreferenceStore(pool *pgxpool.Pool) *PgPreferenceStore {
	return &PgPreferenceStore{pool: pool}
}

func (r *PgPreferenceStore) GetOrCreate(ctx context.Context, userID string, def func() *domain.Preference) (*domain.Preference, error) {
	var out *domain.Preference
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := r.load(ctx, tx, userID, def, false)
		out = p
		return err
	})
	return out, err
}

func (r *PgPreferenceStore) Update(ctx context.Context, userID string, def func() *domain.Preference, fn UpdateFunc[domain.Preference]) (*domain.Preference, error) {
	var out *domain.Preference
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := r.load(ctx, tx, userID, def, true)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		doc, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode preference: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE preferences SET doc = $2, updated_at = $3 WHERE user_id = $1`,
			userID, doc, p.UpdatedAt); err != nil {
			return fmt.Errorf("update preference: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// load inserts the default record if none exists, then reads it back,
// optionally locking the row.
func (r *PgPreferenceStore) load(ctx context.Context, tx pgx.Tx, userID string, def func() *domain.Preference, lock bool) (*domain.Preference, error) {
	seed := def()
	doc, err := json.Marshal(seed)
	if err != nil {
		return nil, fmt.Errorf("encode preference: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO preferences (user_id, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, doc, seed.CreatedAt, seed.UpdatedAt); err != nil {
		return nil, fmt.Errorf("seed preference: %w", err)
	}

	query := `SELECT doc FROM preferences WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var raw []byte
	if err := tx.QueryRow(ctx, query, userID).Scan(&raw); err != nil {
		return nil, fmt.Errorf("load preference: %w", err)
	}
	var p domain.Preference
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode preference: %w", err)
	}
	return &p, nil
}
