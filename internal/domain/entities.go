package domain

import "time"

// UserStatus определяет состояние пользователя в системе доставки.
type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusPaused  UserStatus = "paused"
	UserStatusBlocked UserStatus = "blocked"
)

// User описывает получателя рекапов.
type User struct {
	ID              int64
	TGChatID        int64
	Status          UserStatus
	Interests       []string
	StyleKey        StyleKey
	LastDeliveredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasGatewayAddress сообщает, есть ли у пользователя адрес для отправки.
func (u User) HasGatewayAddress() bool {
	return u.TGChatID != 0
}

// PostKind определяет тип поста Hacker News.
type PostKind string

const (
	PostKindStory PostKind = "story"
	PostKindAsk   PostKind = "ask"
	PostKindShow  PostKind = "show"
	PostKindJob   PostKind = "job"
)

// Post представляет пост с привязанной суммаризацией.
type Post struct {
	ID             int64
	Title          string
	URL            string
	Score          int
	CommentCount   int
	Kind           PostKind
	IsDead         bool
	IsDeleted      bool
	IsCrawlSuccess bool
	Summary        *string
	CreatedAt      time.Time
}

// IsEligible проверяет базовый фильтр пригодности к доставке.
func (p Post) IsEligible() bool {
	return p.Kind == PostKindStory &&
		p.Summary != nil &&
		!p.IsDead &&
		!p.IsDeleted &&
		p.IsCrawlSuccess
}

// Reaction хранит отклик пользователя на доставленный пост.
type Reaction string

const (
	ReactionNone Reaction = ""
	ReactionUp   Reaction = "up"
	ReactionDown Reaction = "down"
)

// DeliveryRecord — запись журнала доставки. Журнал append-only:
// после вставки меняется только Reaction.
type DeliveryRecord struct {
	ID          int64
	UserID      int64
	PostID      int64
	BatchID     string
	MessageID   *int
	Reaction    Reaction
	DeliveredAt time.Time
}

// DeliveryPlan — план отправки для одного пользователя. Живёт только
// внутри одного прогона и не сохраняется.
type DeliveryPlan struct {
	UserID  int64
	BatchID string
	Posts   []Post
}

// PostCount возвращает число постов в плане.
func (p DeliveryPlan) PostCount() int {
	return len(p.Posts)
}

// SendFailure описывает неудачу отправки одного сообщения.
type SendFailure struct {
	PostIndex int
	PostID    int64
	Reason    string
}

// DeliveryResult — итог рассылки плана одному пользователю.
//
// MessagesSent и Failures могут пересекаться: если шлюз принял
// сообщение, а запись журнала не легла, пост считается отправленным и
// одновременно попадает в Failures с причиной сбоя журнала. Поэтому
// сумма двух счётчиков может превышать размер плана.
type DeliveryResult struct {
	MessagesSent int
	Failures     []SendFailure
	MessageIDs   []int
}

// RunJob — задача на запуск пайплайна, передаётся через очередь.
type RunJob struct {
	BatchID         string  `json:"batch_id,omitempty"`
	MaxPostsPerUser int     `json:"max_posts_per_user"`
	SkipUserIDs     []int64 `json:"skip_user_ids,omitempty"`
	DryRun          bool    `json:"dry_run"`
	EnableGrouping  bool    `json:"enable_grouping"`
}
