package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями.
type UserRepo interface {
	ListActive(ctx context.Context) ([]User, error)
	GetByTGChatID(ctx context.Context, tgChatID int64) (User, error)
	UpdateLastDeliveredAt(ctx context.Context, userID int64, ts time.Time) error
}

// PostRepo отдаёт пригодные к доставке посты. Пригодность: kind=story,
// summary заполнен, не dead, не deleted, обход успешен.
type PostRepo interface {
	// ListEligibleSince возвращает пригодные посты с createdAt > since,
	// отсортированные по score по убыванию, не больше limit.
	ListEligibleSince(ctx context.Context, since time.Time, limit int) ([]Post, error)
	// TopEligible возвращает самый высокооценённый пригодный пост.
	// ok=false, если пригодных постов нет вовсе.
	TopEligible(ctx context.Context) (Post, bool, error)
}

// DeliveryRepo — журнал доставки.
type DeliveryRepo interface {
	// DeliveredPostIDs возвращает подмножество postIDs, уже
	// отправленных пользователю.
	DeliveredPostIDs(ctx context.Context, userID int64, postIDs []int64) (map[int64]struct{}, error)
	Append(ctx context.Context, rec DeliveryRecord) error
	SetReaction(ctx context.Context, userID, postID int64, reaction Reaction) error
	ListByBatch(ctx context.Context, batchID string) ([]DeliveryRecord, error)
}

// Message — одно сообщение для шлюза.
type Message struct {
	Text string
	// FeedbackPostID добавляет к сообщению кнопки реакции для поста.
	// 0 — без кнопок.
	FeedbackPostID int64
}

// Gateway отправляет сообщения пользователям.
type Gateway interface {
	Send(ctx context.Context, chatID int64, msg Message) (messageID int, err error)
}

// SelectOptions настраивают вычисление плана доставки.
type SelectOptions struct {
	// BatchID прогона; пустое значение — селектор выпустит свежий.
	BatchID          string
	ExcludeDelivered bool
	RankByInterests  bool
}

// DefaultSelectOptions — поведение по умолчанию: дедупликация по
// журналу и ранжирование по интересам включены.
func DefaultSelectOptions(batchID string) SelectOptions {
	return SelectOptions{BatchID: batchID, ExcludeDelivered: true, RankByInterests: true}
}

// Selector вычисляет план доставки для пользователя.
type Selector interface {
	SelectForUser(ctx context.Context, user User, maxPosts int, opts SelectOptions) (DeliveryPlan, error)
	// SelectFromCandidates строит план из готового множества кандидатов
	// (используется групповым путём с объединённым окном).
	SelectFromCandidates(ctx context.Context, user User, candidates []Post, maxPosts int, opts SelectOptions) (DeliveryPlan, error)
}

// StyleGrouper разбивает пользователей по ключу стиля и считает
// объединённое множество кандидатов группы.
type StyleGrouper interface {
	GroupUsersByStyle(users []User) map[StyleKey][]User
	CollectUnionPosts(ctx context.Context, users []User, maxPosts int) ([]Post, error)
}

// DeliveryHandler рассылает план одному пользователю.
type DeliveryHandler interface {
	SendToUser(ctx context.Context, user User, posts []Post, batchID string) (DeliveryResult, error)
}

// RunQueue — очередь задач на запуск пайплайна.
type RunQueue interface {
	Enqueue(ctx context.Context, job RunJob) error
	Pop(ctx context.Context) (RunJob, error)
}

// RunLocker сериализует прогоны пайплайна, чтобы два параллельных
// прогона не дублировали отправку.
type RunLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
