package selection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
)

type stubPosts struct {
	top     *domain.Post
	list    []domain.Post
	listErr error
}

func (s *stubPosts) ListEligibleSince(_ context.Context, since time.Time, limit int) ([]domain.Post, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.Post, 0, len(s.list))
	for _, p := range s.list {
		if p.CreatedAt.After(since) {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubPosts) TopEligible(context.Context) (domain.Post, bool, error) {
	if s.top == nil {
		return domain.Post{}, false, nil
	}
	return *s.top, true, nil
}

type stubLedger struct {
	delivered map[int64]map[int64]struct{}
	records   []domain.DeliveryRecord
}

func newStubLedger() *stubLedger {
	return &stubLedger{delivered: make(map[int64]map[int64]struct{})}
}

func (s *stubLedger) markDelivered(userID, postID int64) {
	if s.delivered[userID] == nil {
		s.delivered[userID] = make(map[int64]struct{})
	}
	s.delivered[userID][postID] = struct{}{}
}

func (s *stubLedger) DeliveredPostIDs(_ context.Context, userID int64, postIDs []int64) (map[int64]struct{}, error) {
	out := make(map[int64]struct{})
	for _, id := range postIDs {
		if _, ok := s.delivered[userID][id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *stubLedger) Append(_ context.Context, rec domain.DeliveryRecord) error {
	s.records = append(s.records, rec)
	s.markDelivered(rec.UserID, rec.PostID)
	return nil
}

func (s *stubLedger) SetReaction(context.Context, int64, int64, domain.Reaction) error { return nil }

func (s *stubLedger) ListByBatch(context.Context, string) ([]domain.DeliveryRecord, error) {
	return s.records, nil
}

func summary(text string) *string { return &text }

func storyPost(id int64, score int, createdAt time.Time, title, sum string) domain.Post {
	return domain.Post{
		ID:             id,
		Title:          title,
		Score:          score,
		Kind:           domain.PostKindStory,
		IsCrawlSuccess: true,
		Summary:        summary(sum),
		CreatedAt:      createdAt,
	}
}

func TestSelectForUserColdStart(t *testing.T) {
	now := time.Now().UTC()
	top := storyPost(2, 90, now, "big launch", "про запуск")
	posts := &stubPosts{
		top:  &top,
		list: []domain.Post{top, storyPost(1, 50, now, "small", "мелочь")},
	}
	svc := NewService(posts, newStubLedger())

	user := domain.User{ID: 1}
	plan, err := svc.SelectForUser(context.Background(), user, 5, domain.DefaultSelectOptions("b1"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if plan.PostCount() != 1 {
		t.Fatalf("холодный старт должен дать ровно один пост, получили %d", plan.PostCount())
	}
	if plan.Posts[0].ID != 2 {
		t.Fatalf("ожидали пост с максимальным score, получили ID %d", plan.Posts[0].ID)
	}
}

func TestSelectForUserColdStartNoEligiblePosts(t *testing.T) {
	svc := NewService(&stubPosts{}, newStubLedger())

	plan, err := svc.SelectForUser(context.Background(), domain.User{ID: 1}, 3, domain.DefaultSelectOptions(""))
	if err != nil {
		t.Fatalf("пустой результат — не ошибка: %v", err)
	}
	if plan.PostCount() != 0 {
		t.Fatalf("ожидали пустой план")
	}
}

func TestSelectForUserWindowAndLimit(t *testing.T) {
	cursor := time.Now().UTC().Add(-24 * time.Hour)
	after := cursor.Add(time.Hour)
	posts := &stubPosts{list: []domain.Post{
		storyPost(2, 90, after, "b", "x"),
		storyPost(1, 70, after, "a", "x"),
		storyPost(3, 40, after, "c", "x"),
	}}
	svc := NewService(posts, newStubLedger())

	user := domain.User{ID: 2, LastDeliveredAt: &cursor}
	plan, err := svc.SelectForUser(context.Background(), user, 2, domain.DefaultSelectOptions("b1"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if plan.PostCount() != 2 {
		t.Fatalf("ожидали 2 поста, получили %d", plan.PostCount())
	}
	if plan.Posts[0].Score != 90 || plan.Posts[1].Score != 70 {
		t.Fatalf("ожидали порядок [90, 70], получили [%d, %d]", plan.Posts[0].Score, plan.Posts[1].Score)
	}
}

func TestSelectForUserDedupBackfills(t *testing.T) {
	cursor := time.Now().UTC().Add(-24 * time.Hour)
	after := cursor.Add(time.Hour)
	posts := &stubPosts{list: []domain.Post{
		storyPost(2, 90, after, "b", "x"),
		storyPost(1, 70, after, "a", "x"),
		storyPost(3, 40, after, "c", "x"),
	}}
	ledger := newStubLedger()
	ledger.markDelivered(2, 2)
	svc := NewService(posts, ledger)

	user := domain.User{ID: 2, LastDeliveredAt: &cursor}
	plan, err := svc.SelectForUser(context.Background(), user, 2, domain.DefaultSelectOptions("b1"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if plan.PostCount() != 2 {
		t.Fatalf("ожидали добор до 2 постов, получили %d", plan.PostCount())
	}
	if plan.Posts[0].Score != 70 || plan.Posts[1].Score != 40 {
		t.Fatalf("ожидали [70, 40] после исключения доставленного, получили [%d, %d]", plan.Posts[0].Score, plan.Posts[1].Score)
	}
}

func TestSelectForUserIdempotentWithoutSend(t *testing.T) {
	cursor := time.Now().UTC().Add(-24 * time.Hour)
	after := cursor.Add(time.Hour)
	posts := &stubPosts{list: []domain.Post{
		storyPost(2, 90, after, "b", "x"),
		storyPost(1, 70, after, "a", "x"),
	}}
	ledger := newStubLedger()
	svc := NewService(posts, ledger)
	user := domain.User{ID: 2, LastDeliveredAt: &cursor}
	opts := domain.DefaultSelectOptions("b1")

	first, err := svc.SelectForUser(context.Background(), user, 5, opts)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := svc.SelectForUser(context.Background(), user, 5, opts)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(first.Posts) != len(second.Posts) {
		t.Fatalf("повторный выбор без отправки должен совпасть")
	}
	for i := range first.Posts {
		if first.Posts[i].ID != second.Posts[i].ID {
			t.Fatalf("повторный выбор без отправки должен совпасть: позиция %d", i)
		}
	}

	// После отправки пост исчезает из последующих планов.
	if err := ledger.Append(context.Background(), domain.DeliveryRecord{UserID: 2, PostID: 2, BatchID: "b1"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	third, err := svc.SelectForUser(context.Background(), user, 5, opts)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, p := range third.Posts {
		if p.ID == 2 {
			t.Fatalf("доставленный пост не должен выбираться повторно")
		}
	}
}

func TestSelectForUserInterestRanking(t *testing.T) {
	cursor := time.Now().UTC().Add(-24 * time.Hour)
	after := cursor.Add(time.Hour)
	posts := &stubPosts{list: []domain.Post{
		storyPost(1, 95, after, "database internals", "постгрес и индексы"),
		storyPost(2, 80, after, "Rust compiler rewrite", "компилятор на rust"),
		storyPost(3, 60, after, "weekend project", "игрушка на rust"),
	}}
	svc := NewService(posts, newStubLedger())

	user := domain.User{ID: 3, LastDeliveredAt: &cursor, Interests: []string{"rust"}}
	plan, err := svc.SelectForUser(context.Background(), user, 3, domain.DefaultSelectOptions("b1"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// "rust" в заголовке и суммаризации — 4 балла; только в
	// суммаризации — 1; без совпадений — 0, но пост остаётся.
	if plan.Posts[0].ID != 2 || plan.Posts[1].ID != 3 || plan.Posts[2].ID != 1 {
		t.Fatalf("ожидали порядок [2, 3, 1], получили [%d, %d, %d]", plan.Posts[0].ID, plan.Posts[1].ID, plan.Posts[2].ID)
	}
}

func TestSelectForUserRankingStableOnEqualInterest(t *testing.T) {
	cursor := time.Now().UTC().Add(-24 * time.Hour)
	after := cursor.Add(time.Hour)
	posts := &stubPosts{list: []domain.Post{
		storyPost(1, 90, after, "go release", "go релиз"),
		storyPost(2, 70, after, "go modules", "go модули"),
		storyPost(3, 50, after, "go generics", "go дженерики"),
	}}
	svc := NewService(posts, newStubLedger())

	user := domain.User{ID: 3, LastDeliveredAt: &cursor, Interests: []string{"go"}}
	plan, err := svc.SelectForUser(context.Background(), user, 3, domain.DefaultSelectOptions("b1"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for i := 1; i < len(plan.Posts); i++ {
		if plan.Posts[i-1].Score < plan.Posts[i].Score {
			t.Fatalf("при равном интересе порядок должен следовать score по убыванию")
		}
	}
}

func TestSelectForUserInvalidMaxPosts(t *testing.T) {
	svc := NewService(&stubPosts{}, newStubLedger())
	_, err := svc.SelectForUser(context.Background(), domain.User{ID: 1}, 0, domain.DefaultSelectOptions(""))
	if !errors.Is(err, ErrInvalidMaxPosts) {
		t.Fatalf("ожидали ErrInvalidMaxPosts, получили %v", err)
	}
}

func TestSelectForUserKeepsBatchID(t *testing.T) {
	now := time.Now().UTC()
	top := storyPost(1, 10, now, "a", "x")
	svc := NewService(&stubPosts{top: &top}, newStubLedger())

	plan, err := svc.SelectForUser(context.Background(), domain.User{ID: 1}, 1, domain.DefaultSelectOptions("batch-42"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if plan.BatchID != "batch-42" {
		t.Fatalf("ожидали переданный batchID, получили %q", plan.BatchID)
	}

	plan, err = svc.SelectForUser(context.Background(), domain.User{ID: 1}, 1, domain.DefaultSelectOptions(""))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if plan.BatchID == "" {
		t.Fatalf("селектор должен выпустить свежий batchID")
	}
}

func TestSelectFromCandidatesColdUserGetsSinglePost(t *testing.T) {
	now := time.Now().UTC()
	union := []domain.Post{
		storyPost(1, 90, now, "go generics", "про дженерики"),
		storyPost(2, 70, now, "rust async", "про асинхронность"),
		storyPost(3, 40, now, "postgres tips", "про индексы"),
	}
	svc := NewService(&stubPosts{}, newStubLedger())

	// Пользователь без курсора внутри тёплой группы: окно группы уже
	// собрано, но план всё равно не длиннее одного поста.
	user := domain.User{ID: 7, TGChatID: 70}
	plan, err := svc.SelectFromCandidates(context.Background(), user, union, 3, domain.DefaultSelectOptions("b1"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if plan.PostCount() != 1 {
		t.Fatalf("холодный старт даёт ровно один пост, получили %d", plan.PostCount())
	}
	if plan.Posts[0].ID != 1 {
		t.Fatalf("пост должен быть верхним по score в окне группы, получили %d", plan.Posts[0].ID)
	}

	// Интересы переставляют кандидатов до усечения: холодный
	// пользователь получает лучший для себя пост окна.
	user.Interests = []string{"postgres"}
	plan, err = svc.SelectFromCandidates(context.Background(), user, union, 3, domain.DefaultSelectOptions("b1"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if plan.PostCount() != 1 || plan.Posts[0].ID != 3 {
		t.Fatalf("интересы влияют на выбор единственного поста: %+v", plan.Posts)
	}
}
