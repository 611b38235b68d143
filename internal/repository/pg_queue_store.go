package repository

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notifyhub/internal/domain"
)

const queueColumns = `id, notification_id, recipient_id, channel, priority, status,
	attempts, max_attempts, scheduled_at, deferred, last_error, created_at, updated_at`

type PgQueueStore struct {
	pool *pgxpool.Pool
}

func NewPgQueueStore(pool *pgxpool.Pool) *PgQueueStore {
	return &PgQueueStore{pool: pool}
}

func (r *PgQueueStore) CreateItems(ctx context.Context, items []*domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			INSERT INTO delivery_queue
				(id, notification_id, recipient_id, channel, priority, priority_rank, status,
				 attempts, max_attempts, scheduled_at, deferred, last_error, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			it.ID, it.NotificationID, it.RecipientID, it.Channel, it.Priority, it.Priority.Rank(), it.Status,
			it.Attempts, it.MaxAttempts, it.ScheduledAt, it.Deferred, it.LastError, it.CreatedAt, it.UpdatedAt,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert queue items: %w", err)
	}
	return nil
}

func (r *PgQueueStore) Get(ctx context.Context, id string) (*domain.QueueItem, error) {
	it, err := scanQueueItem(r.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM delivery_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return it, err
}

func (r *PgQueueStore) Update(ctx context.Context, id string, fn UpdateFunc[domain.QueueItem]) (*domain.QueueItem, error) {
	var out *domain.QueueItem
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		it, err := scanQueueItem(tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM delivery_queue WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := fn(it); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE delivery_queue
			SET status = $2, attempts = $3, max_attempts = $4, scheduled_at = $5,
			    last_error = $6, priority = $7, priority_rank = $8, updated_at = $9
			WHERE id = $1`,
			id, it.Status, it.Attempts, it.MaxAttempts, it.ScheduledAt,
			it.LastError, it.Priority, it.Priority.Rank(), it.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update queue item: %w", err)
		}
		out = it
		return nil
	})
	return out, err
}

func (r *PgQueueStore) ListByNotification(ctx context.Context, notificationID string) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+` FROM delivery_queue
		WHERE notification_id = $1
		ORDER BY created_at, id`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func (r *PgQueueStore) CancelByNotification(ctx context.Context, notificationID string, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE delivery_queue SET status = 'cancelled', updated_at = $2
		WHERE notification_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		notificationID, now)
	if err != nil {
		return 0, fmt.Errorf("cancel queue items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgQueueStore) DeleteByNotification(ctx context.Context, notificationID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM delivery_queue WHERE notification_id = $1`, notificationID); err != nil {
		return fmt.Errorf("delete queue items: %w", err)
	}
	return nil
}

// ClaimDue uses SKIP LOCKED so several nodes can poll the same table without
// handing out an item twice.
func (r *PgQueueStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE delivery_queue SET status = 'processing', updated_at = $1
		WHERE id IN (
			SELECT id FROM delivery_queue
			WHERE status IN ('pending', 'retrying') AND scheduled_at <= $1
			ORDER BY priority_rank DESC, scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED)
		RETURNING `+queueColumns, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b *domain.QueueItem) int {
		return cmp.Or(cmp.Compare(b.Priority.Rank(), a.Priority.Rank()), a.ScheduledAt.Compare(b.ScheduledAt))
	})
	return items, nil
}

func (r *PgQueueStore) Release(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE delivery_queue SET status = 'pending', updated_at = $2
		WHERE id = ANY($1) AND status = 'processing'`, ids, now)
	if err != nil {
		return fmt.Errorf("release queue items: %w", err)
	}
	return nil
}

func (r *PgQueueStore) RequeueStale(ctx context.Context, before, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE delivery_queue SET status = 'pending', updated_at = $2
		WHERE status = 'processing' AND updated_at < $1`, before, now)
	if err != nil {
		return 0, fmt.Errorf("requeue stale queue items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgQueueStore) CountByStatus(ctx context.Context) (map[domain.QueueStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM delivery_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.QueueStatus]int)
	for rows.Next() {
		var (
			status domain.QueueStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

func scanQueueItem(row pgx.Row) (*domain.QueueItem, error) {
	var it domain.QueueItem
	err := row.Scan(
		&it.ID, &it.NotificationID, &it.RecipientID, &it.Channel, &it.Priority, &it.Status,
		&it.Attempts, &it.MaxAttempts, &it.ScheduledAt, &it.Deferred, &it.LastError, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func scanQueueItems(rows pgx.Rows) ([]*domain.QueueItem, error) {
	var result []*domain.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}
