package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// PgNotificationStore keeps the full notification as a JSONB document and
// mirrors the filterable fields into columns.
type PgNotificationStore struct {
	pool *pgxpool.Pool
}

func NewPgNotificationStore(pool *pgxpool.Pool) *PgNotificationStore {
	return &PgNotificationStore{pool: pool}
}

func (r *PgNotificationStore) Create(ctx context.Context, n *domain.Notification) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, sender_id, status, type, category, priority, priority_rank,
			 channels, recipient_ids, tags, source, is_read,
			 scheduled_for, expires_at, doc, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		n.ID, n.SenderID, n.Status, n.Type, n.Category, n.Priority, n.Priority.Rank(),
		toStrings(n.Channels), n.RecipientIDs(), tagsOf(n), n.Metadata.Source, n.IsRead,
		n.ScheduledFor, n.ExpiresAt, doc, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PgNotificationStore) Get(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `SELECT doc FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

// Update locks the row with SELECT ... FOR UPDATE so concurrent updates of
// the same notification are applied one after another.
func (r *PgNotificationStore) Update(ctx context.Context, id string, fn UpdateFunc[domain.Notification]) (*domain.Notification, error) {
	var out *domain.Notification
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		n, err := scanNotification(tx.QueryRow(ctx, `SELECT doc FROM notifications WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
		doc, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE notifications
			SET status = $2, type = $3, category = $4, priority = $5, priority_rank = $6,
			    tags = $7, is_read = $8, scheduled_for = $9, expires_at = $10,
			    doc = $11, updated_at = $12
			WHERE id = $1`,
			id, n.Status, n.Type, n.Category, n.Priority, n.Priority.Rank(),
			tagsOf(n), n.IsRead, n.ScheduledFor, n.ExpiresAt, doc, n.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update notification: %w", err)
		}
		out = n
		return nil
	})
	return out, err
}

func (r *PgNotificationStore) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgNotificationStore) Search(ctx context.Context, f domain.SearchFilter, viewerID string) ([]*domain.Notification, domain.Page, error) {
	f.Normalize()
	w := buildSearchWhere(f, viewerID)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, domain.Page{}, fmt.Errorf("count notifications: %w", err)
	}

	query := fmt.Sprintf(`SELECT doc FROM notifications%s ORDER BY %s LIMIT %s OFFSET %s`,
		w.clause(), orderBy(f), w.next(f.Limit), w.next(f.Offset))
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, domain.Page{}, fmt.Errorf("search notifications: %w", err)
	}
	defer rows.Close()

	ns, err := scanNotifications(rows)
	if err != nil {
		return nil, domain.Page{}, err
	}
	if ns == nil {
		ns = []*domain.Notification{}
	}
	return ns, domain.NewPage(total, f.Limit, f.Offset), nil
}

func (r *PgNotificationStore) CreatedSince(ctx context.Context, since time.Time, userID string) ([]*domain.Notification, error) {
	var w whereBuilder
	w.add("created_at >= $%d", since)
	if userID != "" {
		w.add("(sender_id = $%[1]d OR $%[1]d = ANY(recipient_ids))", userID)
	}
	rows, err := r.pool.Query(ctx, "SELECT doc FROM notifications"+w.clause(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications for stats: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *PgNotificationStore) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doc FROM notifications
		WHERE status = 'draft' AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find due scheduled: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *PgNotificationStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doc FROM notifications
		WHERE status IN ('draft', 'queued') AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ---- helpers ----

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return nil, err
	}
	var n domain.Notification
	if err := json.Unmarshal(doc, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func tagsOf(n *domain.Notification) []string {
	if n.Metadata.Tags == nil {
		return []string{}
	}
	return n.Metadata.Tags
}

// buildSearchWhere mirrors domain.SearchFilter.Matches in SQL.
func buildSearchWhere(f domain.SearchFilter, viewerID string) *whereBuilder {
	w := &whereBuilder{}
	if viewerID != "" {
		w.add("(sender_id = $%[1]d OR $%[1]d = ANY(recipient_ids))", viewerID)
	}
	if len(f.Types) > 0 {
		w.add("type = ANY($%d)", toStrings(f.Types))
	}
	if len(f.Categories) > 0 {
		w.add("category = ANY($%d)", toStrings(f.Categories))
	}
	if len(f.Priorities) > 0 {
		w.add("priority = ANY($%d)", toStrings(f.Priorities))
	}
	if len(f.Statuses) > 0 {
		w.add("status = ANY($%d)", toStrings(f.Statuses))
	}
	if len(f.Channels) > 0 {
		w.add("channels && $%d", toStrings(f.Channels))
	}
	if f.SenderID != "" {
		w.add("sender_id = $%d", f.SenderID)
	}
	if f.From != nil {
		w.add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("created_at <= $%d", *f.To)
	}
	if f.Read != nil {
		if viewerID != "" {
			receipt, _ := json.Marshal([]map[string]string{{"user_id": viewerID}})
			cond := "COALESCE(doc->'read_by', '[]'::jsonb) @> $%d::jsonb"
			if !*f.Read {
				cond = "NOT " + cond
			}
			w.add(cond, string(receipt))
		} else {
			w.add("is_read = $%d", *f.Read)
		}
	}
	if len(f.Tags) > 0 {
		w.add("tags && $%d", f.Tags)
	}
	if f.Source != "" {
		w.add("source = $%d", f.Source)
	}
	if f.Query != "" {
		w.add(`(doc->>'title' ILIKE $%[1]d OR doc->>'message' ILIKE $%[1]d
			OR EXISTS (SELECT 1 FROM unnest(tags) t WHERE t ILIKE $%[1]d))`, likePattern(f.Query))
	}
	return w
}

func orderBy(f domain.SearchFilter) string {
	dir := "DESC"
	if f.Order == domain.OrderAsc {
		dir = "ASC"
	}
	switch f.SortBy {
	case domain.SortByPriority:
		return fmt.Sprintf("priority_rank %[1]s, created_at %[1]s, id %[1]s", dir)
	case domain.SortByUpdatedAt:
		return fmt.Sprintf("updated_at %[1]s, created_at %[1]s, id %[1]s", dir)
	default:
		return fmt.Sprintf("created_at %[1]s, id %[1]s", dir)
	}
}
