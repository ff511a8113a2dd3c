package selection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/metrics"
)

// ErrInvalidMaxPosts возвращается при нарушении контракта вызова.
var ErrInvalidMaxPosts = errors.New("maxPosts должен быть положительным")

// candidateOverfetch — во сколько раз больше кандидатов забирается из
// хранилища, чтобы после дедупликации по журналу план всё ещё можно
// было добить до maxPosts.
const candidateOverfetch = 4

// Service вычисляет план доставки для одного пользователя.
type Service struct {
	posts  domain.PostRepo
	ledger domain.DeliveryRepo
}

var _ domain.Selector = (*Service)(nil)

// NewService создаёт селектор.
func NewService(posts domain.PostRepo, ledger domain.DeliveryRepo) *Service {
	return &Service{posts: posts, ledger: ledger}
}

// SelectForUser выбирает посты для пользователя.
//
// Холодный старт (курсор пуст) отдаёт ровно один пост с максимальным
// score независимо от maxPosts — новый пользователь получает одну
// публикацию, а не весь бэклог.
func (s *Service) SelectForUser(ctx context.Context, user domain.User, maxPosts int, opts domain.SelectOptions) (domain.DeliveryPlan, error) {
	if maxPosts <= 0 {
		return domain.DeliveryPlan{}, ErrInvalidMaxPosts
	}

	start := time.Now()
	defer func() { metrics.SelectionDuration.Observe(time.Since(start).Seconds()) }()

	var candidates []domain.Post
	if user.LastDeliveredAt == nil {
		top, ok, err := s.posts.TopEligible(ctx)
		if err != nil {
			return domain.DeliveryPlan{}, fmt.Errorf("топ постов: %w", err)
		}
		if ok {
			candidates = []domain.Post{top}
		}
		// Холодный старт: план не длиннее одного поста.
		maxPosts = 1
	} else {
		var err error
		candidates, err = s.posts.ListEligibleSince(ctx, *user.LastDeliveredAt, maxPosts*candidateOverfetch)
		if err != nil {
			return domain.DeliveryPlan{}, fmt.Errorf("посты после курсора: %w", err)
		}
	}

	return s.planFromCandidates(ctx, user, candidates, maxPosts, opts)
}

// SelectFromCandidates строит план из заранее вычисленного множества
// кандидатов (групповой путь: объединённое окно группы).
func (s *Service) SelectFromCandidates(ctx context.Context, user domain.User, candidates []domain.Post, maxPosts int, opts domain.SelectOptions) (domain.DeliveryPlan, error) {
	if maxPosts <= 0 {
		return domain.DeliveryPlan{}, ErrInvalidMaxPosts
	}
	if user.LastDeliveredAt == nil {
		maxPosts = 1
	}
	return s.planFromCandidates(ctx, user, candidates, maxPosts, opts)
}

func (s *Service) planFromCandidates(ctx context.Context, user domain.User, candidates []domain.Post, maxPosts int, opts domain.SelectOptions) (domain.DeliveryPlan, error) {
	if opts.ExcludeDelivered && len(candidates) > 0 {
		ids := make([]int64, 0, len(candidates))
		for _, p := range candidates {
			ids = append(ids, p.ID)
		}
		delivered, err := s.ledger.DeliveredPostIDs(ctx, user.ID, ids)
		if err != nil {
			return domain.DeliveryPlan{}, fmt.Errorf("журнал доставки: %w", err)
		}
		filtered := candidates[:0:0]
		for _, p := range candidates {
			if _, ok := delivered[p.ID]; ok {
				continue
			}
			filtered = append(filtered, p)
		}
		candidates = filtered
	}

	if opts.RankByInterests {
		candidates = rankByInterests(candidates, user.Interests)
	}

	if len(candidates) > maxPosts {
		candidates = candidates[:maxPosts]
	}

	batchID := opts.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	return domain.DeliveryPlan{UserID: user.ID, BatchID: batchID, Posts: candidates}, nil
}

// rankByInterests пересортировывает кандидатов по (interestScore desc,
// score desc). Это перестановка, а не фильтр: посты с нулевым
// совпадением остаются в плане.
func rankByInterests(posts []domain.Post, interests []string) []domain.Post {
	if len(interests) == 0 || len(posts) == 0 {
		return posts
	}
	scored := make([]int, len(posts))
	for i, p := range posts {
		scored[i] = interestScore(p, interests)
	}
	idx := make([]int, len(posts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if scored[idx[a]] != scored[idx[b]] {
			return scored[idx[a]] > scored[idx[b]]
		}
		return posts[idx[a]].Score > posts[idx[b]].Score
	})
	out := make([]domain.Post, len(posts))
	for i, j := range idx {
		out[i] = posts[j]
	}
	return out
}

func interestScore(post domain.Post, interests []string) int {
	title := strings.ToLower(post.Title)
	summary := ""
	if post.Summary != nil {
		summary = strings.ToLower(*post.Summary)
	}
	score := 0
	for _, keyword := range interests {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) {
			score += 3
		}
		if summary != "" && strings.Contains(summary, kw) {
			score++
		}
	}
	return score
}
