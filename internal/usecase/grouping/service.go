package grouping

import (
	"context"
	"fmt"
	"sort"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
)

// candidateOverfetch повторяет запас селектора: объединённое окно
// обслуживает всех участников группы, дедупликация у каждого своя.
const candidateOverfetch = 4

// Service разбивает пользователей по стилю и считает объединённое
// множество кандидатов группы. Одна группа — одна суммаризация на
// пост вместо одной на пару (пост, пользователь).
type Service struct {
	posts domain.PostRepo
}

var _ domain.StyleGrouper = (*Service)(nil)

// NewService создаёт группировщик.
func NewService(posts domain.PostRepo) *Service {
	return &Service{posts: posts}
}

// GroupUsersByStyle возвращает свежую неизменяемую карту
// styleKey → пользователи. Пустой стиль сводится к ключу по умолчанию,
// пользователи внутри группы отсортированы по ID, чтобы повторные
// прогоны были воспроизводимы.
func (s *Service) GroupUsersByStyle(users []domain.User) map[domain.StyleKey][]domain.User {
	groups := make(map[domain.StyleKey][]domain.User)
	for _, u := range users {
		key := u.StyleKey
		if key == "" {
			key = domain.StyleDefault
		}
		groups[key] = append(groups[key], u)
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	}
	return groups
}

// CollectUnionPosts считает кандидатов для всей группы. Окно начинается
// с самого раннего непустого курсора: оно покрывает бэклог каждого
// участника, а лишнее у участников с поздним курсором уберёт
// пер-пользовательская дедупликация при отправке. Если никому из
// группы ещё не доставляли — как и у селектора, один глобально лучший
// пост.
func (s *Service) CollectUnionPosts(ctx context.Context, users []domain.User, maxPosts int) ([]domain.Post, error) {
	var earliest *domain.User
	for i := range users {
		u := &users[i]
		if u.LastDeliveredAt == nil {
			continue
		}
		if earliest == nil || u.LastDeliveredAt.Before(*earliest.LastDeliveredAt) {
			earliest = u
		}
	}

	if earliest == nil {
		top, ok, err := s.posts.TopEligible(ctx)
		if err != nil {
			return nil, fmt.Errorf("топ постов: %w", err)
		}
		if !ok {
			return nil, nil
		}
		return []domain.Post{top}, nil
	}

	posts, err := s.posts.ListEligibleSince(ctx, *earliest.LastDeliveredAt, maxPosts*candidateOverfetch)
	if err != nil {
		return nil, fmt.Errorf("посты группы: %w", err)
	}
	return posts, nil
}
