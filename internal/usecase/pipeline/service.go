package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/metrics"
)

// ErrRunInProgress возвращается, когда блокировка прогона уже занята
// другим процессом.
var ErrRunInProgress = errors.New("прогон пайплайна уже выполняется")

// ErrInvalidMaxPosts возвращается при нарушении контракта вызова.
var ErrInvalidMaxPosts = errors.New("maxPostsPerUser должен быть положительным")

const runLockKey = "hn-recap:pipeline:run"

// DefaultRunLockTTL ограничивает время жизни блокировки прогона на
// случай падения процесса без Release.
const DefaultRunLockTTL = 30 * time.Minute

// RunParams — параметры одного прогона.
type RunParams struct {
	// BatchID прогона; пустое значение — будет выпущен новый.
	BatchID         string
	MaxPostsPerUser int
	SkipUserIDs     []int64
	// DryRun прогоняет селектор, но не отправляет сообщения, не пишет
	// журнал и не двигает курсоры.
	DryRun bool
	// EnableGrouping включает групповой путь: пользователи разбиваются
	// по ключу стиля, группы обрабатываются параллельно.
	EnableGrouping bool
}

// Service — оркестратор пайплайна доставки.
//
// Прогон линеен: загрузка активных пользователей, (опционально)
// группировка по стилю, выбор и рассылка по каждому пользователю,
// агрегация статистики. Ошибка одного пользователя или одной группы
// изолируется и попадает в RunStats.Errors; прогон валит только отказ
// хранилища на загрузке пользователей.
type Service struct {
	users    domain.UserRepo
	selector domain.Selector
	grouper  domain.StyleGrouper
	handler  domain.DeliveryHandler
	locker   domain.RunLocker
	lockTTL  time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт оркестратор. locker может быть nil — тогда
// прогоны не сериализуются.
func NewService(users domain.UserRepo, selector domain.Selector, grouper domain.StyleGrouper, handler domain.DeliveryHandler, locker domain.RunLocker, log zerolog.Logger) *Service {
	return &Service{
		users:    users,
		selector: selector,
		grouper:  grouper,
		handler:  handler,
		locker:   locker,
		lockTTL:  DefaultRunLockTTL,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLockTTL задаёт время жизни блокировки прогона. Неположительное
// значение оставляет DefaultRunLockTTL.
func (s *Service) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// userOutcome — итог обработки одного пользователя.
type userOutcome struct {
	sent    int
	failed  int
	skipped bool
	errors  []domain.RunError
}

// groupOutcome — агрегат одной группы стиля.
type groupOutcome struct {
	processed int
	skipped   int
	sent      int
	failed    int
	errors    []domain.RunError
}

// Run выполняет один прогон пайплайна.
func (s *Service) Run(ctx context.Context, params RunParams) (domain.RunStats, error) {
	if params.MaxPostsPerUser <= 0 {
		return domain.RunStats{}, ErrInvalidMaxPosts
	}

	batchID := params.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	stats := domain.RunStats{BatchID: batchID, StartedAt: s.now()}
	metrics.PipelineRuns.Inc()
	defer func() {
		metrics.PipelineRunDuration.Observe(stats.Duration.Seconds())
	}()

	if s.locker != nil && !params.DryRun {
		acquired, err := s.locker.Acquire(ctx, runLockKey, s.lockTTL)
		if err != nil {
			stats.Duration = s.now().Sub(stats.StartedAt)
			return stats, fmt.Errorf("блокировка прогона: %w", err)
		}
		if !acquired {
			stats.Duration = s.now().Sub(stats.StartedAt)
			return stats, ErrRunInProgress
		}
		defer func() {
			if err := s.locker.Release(context.Background(), runLockKey); err != nil {
				s.log.Warn().Err(err).Msg("не удалось снять блокировку прогона")
			}
		}()
	}

	users, err := s.users.ListActive(ctx)
	if err != nil {
		stats.Duration = s.now().Sub(stats.StartedAt)
		return stats, fmt.Errorf("загрузка активных пользователей: %w", err)
	}
	users = excludeUsers(users, params.SkipUserIDs)

	s.log.Info().
		Str("batch", batchID).
		Int("users", len(users)).
		Bool("dry_run", params.DryRun).
		Bool("grouping", params.EnableGrouping).
		Msg("прогон пайплайна начат")

	if params.EnableGrouping {
		s.runGrouped(ctx, users, batchID, params, &stats)
	} else {
		s.runSequential(ctx, users, batchID, params, &stats)
	}

	stats.Duration = s.now().Sub(stats.StartedAt)
	s.log.Info().
		Str("batch", batchID).
		Int("processed", stats.UsersProcessed).
		Int("skipped", stats.UsersSkipped).
		Int("sent", stats.MessagesSent).
		Int("failed", stats.MessagesFailed).
		Dur("duration", stats.Duration).
		Msg("прогон пайплайна завершён")
	return stats, nil
}

// runSequential обрабатывает пользователей по одному: выбор, рассылка,
// сдвиг курсора. Ошибка пользователя не прерывает прогон.
func (s *Service) runSequential(ctx context.Context, users []domain.User, batchID string, params RunParams, stats *domain.RunStats) {
	for _, user := range users {
		// Внешняя остановка уважается между пользователями, но не
		// внутри рассылки одного.
		if ctx.Err() != nil {
			stats.UsersSkipped += countRemaining(users, user.ID)
			return
		}
		outcome := s.processUser(ctx, user, nil, false, batchID, params)
		applyOutcome(stats, outcome)
	}
}

// runGrouped разбивает пользователей по стилю и обрабатывает группы
// параллельно: по одной горутине на группу, все присоединяются до
// агрегации. Внутри группы пользователи идут последовательно.
func (s *Service) runGrouped(ctx context.Context, users []domain.User, batchID string, params RunParams, stats *domain.RunStats) {
	groups := s.grouper.GroupUsersByStyle(users)
	keys := make([]domain.StyleKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	outcomes := make([]groupOutcome, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key domain.StyleKey, members []domain.User) {
			defer wg.Done()
			outcomes[i] = s.processGroup(ctx, key, members, batchID, params)
		}(i, key, groups[key])
	}
	wg.Wait()

	for _, g := range outcomes {
		stats.UsersProcessed += g.processed
		stats.UsersSkipped += g.skipped
		stats.MessagesSent += g.sent
		stats.MessagesFailed += g.failed
		stats.Errors = append(stats.Errors, g.errors...)
	}
}

func (s *Service) processGroup(ctx context.Context, key domain.StyleKey, members []domain.User, batchID string, params RunParams) groupOutcome {
	var out groupOutcome

	union, err := s.grouper.CollectUnionPosts(ctx, members, params.MaxPostsPerUser)
	if err != nil {
		s.log.Error().Err(err).Str("style", string(key)).Msg("группа пропущена: не удалось собрать кандидатов")
		out.skipped = len(members)
		out.errors = append(out.errors, domain.RunError{
			StyleKey: key,
			Stage:    domain.StageGroup,
			Message:  err.Error(),
		})
		return out
	}

	for _, user := range members {
		if ctx.Err() != nil {
			out.skipped += countRemaining(members, user.ID)
			return out
		}
		outcome := s.processUser(ctx, user, union, true, batchID, params)
		if outcome.skipped {
			out.skipped++
		} else {
			out.processed++
		}
		out.sent += outcome.sent
		out.failed += outcome.failed
		out.errors = append(out.errors, outcome.errors...)
	}
	return out
}

// processUser выполняет выбор и рассылку для одного пользователя.
// fromCandidates означает групповой путь: план строится из
// объединённого окна группы (возможно пустого).
func (s *Service) processUser(ctx context.Context, user domain.User, candidates []domain.Post, fromCandidates bool, batchID string, params RunParams) userOutcome {
	var out userOutcome
	opts := domain.DefaultSelectOptions(batchID)

	var (
		plan domain.DeliveryPlan
		err  error
	)
	if fromCandidates {
		plan, err = s.selector.SelectFromCandidates(ctx, user, candidates, params.MaxPostsPerUser, opts)
	} else {
		plan, err = s.selector.SelectForUser(ctx, user, params.MaxPostsPerUser, opts)
	}
	if err != nil {
		s.log.Error().Err(err).Int64("user", user.ID).Msg("пользователь пропущен: ошибка выбора постов")
		out.skipped = true
		out.errors = append(out.errors, domain.RunError{
			UserID:   user.ID,
			StyleKey: user.StyleKey,
			Stage:    domain.StageSelect,
			Message:  err.Error(),
		})
		return out
	}

	if plan.PostCount() == 0 {
		return out
	}

	if params.DryRun {
		out.sent = plan.PostCount()
		return out
	}

	res, err := s.handler.SendToUser(ctx, user, plan.Posts, batchID)
	out.sent = res.MessagesSent
	out.failed = len(res.Failures)
	if err != nil {
		s.log.Error().Err(err).Int64("user", user.ID).Msg("пользователь пропущен: рассылка сорвалась")
		out.skipped = true
		out.errors = append(out.errors, domain.RunError{
			UserID:   user.ID,
			StyleKey: user.StyleKey,
			Stage:    domain.StageDeliver,
			Message:  err.Error(),
		})
		return out
	}

	// Курсор двигается только вперёд и только после хотя бы одной
	// успешной отправки; сохраняется сразу, чтобы падение посреди
	// прогона не откатило уже доставленных пользователей.
	if res.MessagesSent > 0 {
		if err := s.users.UpdateLastDeliveredAt(ctx, user.ID, s.now()); err != nil {
			s.log.Error().Err(err).Int64("user", user.ID).Msg("не удалось сдвинуть курсор доставки")
			out.errors = append(out.errors, domain.RunError{
				UserID:   user.ID,
				StyleKey: user.StyleKey,
				Stage:    domain.StageCursor,
				Message:  err.Error(),
			})
		}
	}
	return out
}

func applyOutcome(stats *domain.RunStats, outcome userOutcome) {
	if outcome.skipped {
		stats.UsersSkipped++
	} else {
		stats.UsersProcessed++
	}
	stats.MessagesSent += outcome.sent
	stats.MessagesFailed += outcome.failed
	stats.Errors = append(stats.Errors, outcome.errors...)
}

func excludeUsers(users []domain.User, skipIDs []int64) []domain.User {
	if len(skipIDs) == 0 {
		return users
	}
	skip := make(map[int64]struct{}, len(skipIDs))
	for _, id := range skipIDs {
		skip[id] = struct{}{}
	}
	out := users[:0:0]
	for _, u := range users {
		if _, ok := skip[u.ID]; ok {
			continue
		}
		out = append(out, u)
	}
	return out
}

// countRemaining считает пользователей начиная с указанного — тех,
// кого остановка прогона оставила без обработки.
func countRemaining(users []domain.User, fromID int64) int {
	for i, u := range users {
		if u.ID == fromID {
			return len(users) - i
		}
	}
	return 0
}
