package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/metrics"
)

// ErrUserNotFound возвращается, когда пользователь не найден.
var ErrUserNotFound = errors.New("пользователь не найден")

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.UserRepo = (*Postgres)(nil)
var _ domain.PostRepo = (*Postgres)(nil)
var _ domain.DeliveryRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const eligiblePredicate = `kind = 'story'
  AND summary IS NOT NULL
  AND NOT is_dead
  AND NOT is_deleted
  AND is_crawl_success`

// ListActive реализует domain.UserRepo.
func (p *Postgres) ListActive(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, tg_chat_id, status, interests, style_key, last_delivered_at, created_at, updated_at
FROM users
WHERE status = 'active'
ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_active", "users", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка активных пользователей: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetByTGChatID реализует domain.UserRepo.
func (p *Postgres) GetByTGChatID(ctx context.Context, tgChatID int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, tg_chat_id, status, interests, style_key, last_delivered_at, created_at, updated_at
FROM users
WHERE tg_chat_id = $1
`, tgChatID)
	metrics.ObserveNetworkRequest("postgres", "users_get_by_chat", "users", start, err)
	if err != nil {
		return domain.User{}, fmt.Errorf("поиск пользователя: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.User{}, err
		}
		return domain.User{}, ErrUserNotFound
	}
	return scanUser(rows)
}

// UpdateLastDeliveredAt реализует domain.UserRepo. Условие в запросе
// не даёт курсору уйти назад даже при гонке двух прогонов.
func (p *Postgres) UpdateLastDeliveredAt(ctx context.Context, userID int64, ts time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE users
SET last_delivered_at = $2, updated_at = now()
WHERE id = $1 AND (last_delivered_at IS NULL OR last_delivered_at < $2)
`, userID, ts)
	metrics.ObserveNetworkRequest("postgres", "users_advance_cursor", "users", start, err)
	if err != nil {
		return fmt.Errorf("сдвиг курсора доставки: %w", err)
	}
	return nil
}

// ListEligibleSince реализует domain.PostRepo.
func (p *Postgres) ListEligibleSince(ctx context.Context, since time.Time, limit int) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, url, score, comment_count, kind, is_dead, is_deleted, is_crawl_success, summary, created_at
FROM posts
WHERE `+eligiblePredicate+`
  AND created_at > $1
ORDER BY score DESC, id
LIMIT $2
`, since, limit)
	metrics.ObserveNetworkRequest("postgres", "posts_list_eligible", "posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка постов: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// TopEligible реализует domain.PostRepo.
func (p *Postgres) TopEligible(ctx context.Context) (domain.Post, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, title, url, score, comment_count, kind, is_dead, is_deleted, is_crawl_success, summary, created_at
FROM posts
WHERE `+eligiblePredicate+`
ORDER BY score DESC, id
LIMIT 1
`)
	metrics.ObserveNetworkRequest("postgres", "posts_top_eligible", "posts", start, err)
	if err != nil {
		return domain.Post{}, false, fmt.Errorf("топ постов: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Post{}, false, err
		}
		return domain.Post{}, false, nil
	}
	post, err := scanPost(rows)
	if err != nil {
		return domain.Post{}, false, err
	}
	return post, true, nil
}

// DeliveredPostIDs реализует domain.DeliveryRepo.
func (p *Postgres) DeliveredPostIDs(ctx context.Context, userID int64, postIDs []int64) (map[int64]struct{}, error) {
	if len(postIDs) == 0 {
		return map[int64]struct{}{}, nil
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT post_id
FROM delivery_records
WHERE user_id = $1 AND post_id = ANY($2)
`, userID, postIDs)
	metrics.ObserveNetworkRequest("postgres", "delivery_dedup", "delivery_records", start, err)
	if err != nil {
		return nil, fmt.Errorf("дедупликация по журналу: %w", err)
	}
	defer rows.Close()

	delivered := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		delivered[id] = struct{}{}
	}
	return delivered, rows.Err()
}

// Append реализует domain.DeliveryRepo. Журнал append-only.
func (p *Postgres) Append(ctx context.Context, rec domain.DeliveryRecord) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var messageID sql.NullInt64
	if rec.MessageID != nil {
		messageID = sql.NullInt64{Int64: int64(*rec.MessageID), Valid: true}
	}
	deliveredAt := rec.DeliveredAt
	if deliveredAt.IsZero() {
		deliveredAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO delivery_records (user_id, post_id, batch_id, message_id, reaction, delivered_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
`, rec.UserID, rec.PostID, rec.BatchID, messageID, string(rec.Reaction), deliveredAt)
	metrics.ObserveNetworkRequest("postgres", "delivery_append", "delivery_records", start, err)
	if err != nil {
		return fmt.Errorf("запись журнала доставки: %w", err)
	}
	return nil
}

// SetReaction реализует domain.DeliveryRepo — единственное обновление
// записи журнала.
func (p *Postgres) SetReaction(ctx context.Context, userID, postID int64, reaction domain.Reaction) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE delivery_records
SET reaction = NULLIF($3, '')
WHERE user_id = $1 AND post_id = $2
`, userID, postID, string(reaction))
	metrics.ObserveNetworkRequest("postgres", "delivery_set_reaction", "delivery_records", start, err)
	if err != nil {
		return fmt.Errorf("сохранение реакции: %w", err)
	}
	return nil
}

// ListByBatch реализует domain.DeliveryRepo.
func (p *Postgres) ListByBatch(ctx context.Context, batchID string) ([]domain.DeliveryRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, post_id, batch_id, message_id, COALESCE(reaction, ''), delivered_at
FROM delivery_records
WHERE batch_id = $1
ORDER BY id
`, batchID)
	metrics.ObserveNetworkRequest("postgres", "delivery_list_batch", "delivery_records", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка журнала по батчу: %w", err)
	}
	defer rows.Close()

	var records []domain.DeliveryRecord
	for rows.Next() {
		var (
			rec       domain.DeliveryRecord
			messageID sql.NullInt64
			reaction  string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.PostID, &rec.BatchID, &messageID, &reaction, &rec.DeliveredAt); err != nil {
			return nil, err
		}
		if messageID.Valid {
			id := int(messageID.Int64)
			rec.MessageID = &id
		}
		rec.Reaction = domain.Reaction(reaction)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanUser(rows pgx.Rows) (domain.User, error) {
	var (
		user      domain.User
		status    string
		styleKey  sql.NullString
		interests []string
		delivered sql.NullTime
	)
	if err := rows.Scan(&user.ID, &user.TGChatID, &status, &interests, &styleKey, &delivered, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	user.Status = domain.UserStatus(status)
	user.Interests = interests
	user.StyleKey = domain.ResolveStyleKey(styleKey.String)
	if delivered.Valid {
		ts := delivered.Time
		user.LastDeliveredAt = &ts
	}
	return user, nil
}

func scanPost(rows pgx.Rows) (domain.Post, error) {
	var (
		post    domain.Post
		kind    string
		summary sql.NullString
	)
	if err := rows.Scan(&post.ID, &post.Title, &post.URL, &post.Score, &post.CommentCount, &kind, &post.IsDead, &post.IsDeleted, &post.IsCrawlSuccess, &summary, &post.CreatedAt); err != nil {
		return domain.Post{}, err
	}
	post.Kind = domain.PostKind(kind)
	if summary.Valid {
		text := summary.String
		post.Summary = &text
	}
	return post, nil
}
