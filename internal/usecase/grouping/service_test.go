package grouping

import (
	"context"
	"testing"
	"time"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
)

type stubPosts struct {
	top   *domain.Post
	list  []domain.Post
	since *time.Time
}

func (s *stubPosts) ListEligibleSince(_ context.Context, since time.Time, limit int) ([]domain.Post, error) {
	ts := since
	s.since = &ts
	if len(s.list) > limit {
		return s.list[:limit], nil
	}
	return s.list, nil
}

func (s *stubPosts) TopEligible(context.Context) (domain.Post, bool, error) {
	if s.top == nil {
		return domain.Post{}, false, nil
	}
	return *s.top, true, nil
}

func TestGroupUsersByStyle(t *testing.T) {
	svc := NewService(&stubPosts{})
	users := []domain.User{
		{ID: 3, StyleKey: domain.StyleDetailed},
		{ID: 1, StyleKey: domain.StyleConcise},
		{ID: 2, StyleKey: ""},
		{ID: 5, StyleKey: domain.StyleConcise},
	}

	groups := svc.GroupUsersByStyle(users)
	if len(groups) != 2 {
		t.Fatalf("ожидали 2 группы, получили %d", len(groups))
	}
	concise := groups[domain.StyleConcise]
	if len(concise) != 3 {
		t.Fatalf("пустой стиль должен попасть в группу по умолчанию, получили %d участников", len(concise))
	}
	for i := 1; i < len(concise); i++ {
		if concise[i-1].ID >= concise[i].ID {
			t.Fatalf("участники группы должны быть отсортированы по ID")
		}
	}
	if len(groups[domain.StyleDetailed]) != 1 {
		t.Fatalf("ожидали одного участника в detailed")
	}
}

func TestCollectUnionPostsUsesEarliestCursor(t *testing.T) {
	t1 := time.Now().UTC().Add(-48 * time.Hour)
	t2 := t1.Add(24 * time.Hour)
	posts := &stubPosts{list: []domain.Post{{ID: 1}, {ID: 2}}}
	svc := NewService(posts)

	users := []domain.User{
		{ID: 3, LastDeliveredAt: &t1},
		{ID: 4, LastDeliveredAt: &t2},
	}
	got, err := svc.CollectUnionPosts(context.Background(), users, 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ожидали 2 поста, получили %d", len(got))
	}
	if posts.since == nil || !posts.since.Equal(t1) {
		t.Fatalf("окно группы должно начинаться с самого раннего курсора")
	}
}

func TestCollectUnionPostsColdGroup(t *testing.T) {
	top := domain.Post{ID: 7, Score: 99}
	posts := &stubPosts{top: &top}
	svc := NewService(posts)

	users := []domain.User{{ID: 1}, {ID: 2}}
	got, err := svc.CollectUnionPosts(context.Background(), users, 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("группа без доставок должна получить один глобально лучший пост")
	}
	if posts.since != nil {
		t.Fatalf("для холодной группы окно не вычисляется")
	}
}

func TestCollectUnionPostsColdGroupNoPosts(t *testing.T) {
	svc := NewService(&stubPosts{})
	got, err := svc.CollectUnionPosts(context.Background(), []domain.User{{ID: 1}}, 5)
	if err != nil {
		t.Fatalf("пустой результат — не ошибка: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ожидали пустое множество кандидатов")
	}
}
