package delivery

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/metrics"
)

// DefaultSendDelay — минимальная пауза между двумя сообщениями одному
// пользователю, чтобы не упереться в лимиты шлюза.
const DefaultSendDelay = time.Second

// Service рассылает план доставки одному пользователю.
type Service struct {
	gateway  domain.Gateway
	ledger   domain.DeliveryRepo
	log      zerolog.Logger
	minDelay time.Duration
	now      func() time.Time
}

var _ domain.DeliveryHandler = (*Service)(nil)

// NewService создаёт обработчик доставки.
func NewService(gateway domain.Gateway, ledger domain.DeliveryRepo, log zerolog.Logger, minDelay time.Duration) *Service {
	if minDelay <= 0 {
		minDelay = DefaultSendDelay
	}
	return &Service{
		gateway:  gateway,
		ledger:   ledger,
		log:      log,
		minDelay: minDelay,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SendToUser отправляет посты в порядке плана. Неудача одного
// сообщения не прерывает остальные: она фиксируется в Failures, и
// рассылка продолжается. Ошибкой завершается только срыв всей
// рассылки (отмена контекста).
func (s *Service) SendToUser(ctx context.Context, user domain.User, posts []domain.Post, batchID string) (domain.DeliveryResult, error) {
	var res domain.DeliveryResult
	if len(posts) == 0 {
		return res, nil
	}
	if !user.HasGatewayAddress() {
		res.Failures = append(res.Failures, domain.SendFailure{Reason: "у пользователя нет адреса шлюза"})
		return res, nil
	}

	// Рассылка одному пользователю идёт последовательно, поэтому пауза
	// нужна только между сообщениями одного вызова. Свежий лимитер
	// держит один токен: первое сообщение уходит без ожидания.
	limiter := rate.NewLimiter(rate.Every(s.minDelay), 1)
	total := len(posts)
	for i, post := range posts {
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}

		text := FormatPostMessage(post, i+1, total)
		start := time.Now()
		msgID, err := s.gateway.Send(ctx, user.TGChatID, domain.Message{Text: text, FeedbackPostID: post.ID})
		metrics.ObserveNetworkRequest("gateway", "send", strconv.FormatInt(user.TGChatID, 10), start, err)
		if err != nil {
			metrics.SendErrors.Inc()
			s.log.Warn().Err(err).
				Int64("user", user.ID).
				Int64("post", post.ID).
				Msg("не удалось отправить сообщение")
			res.Failures = append(res.Failures, domain.SendFailure{PostIndex: i + 1, PostID: post.ID, Reason: err.Error()})
			continue
		}

		res.MessagesSent++
		res.MessageIDs = append(res.MessageIDs, msgID)
		metrics.MessagesSentByStyle.WithLabelValues(string(user.StyleKey)).Inc()

		messageID := msgID
		rec := domain.DeliveryRecord{
			UserID:      user.ID,
			PostID:      post.ID,
			BatchID:     batchID,
			MessageID:   &messageID,
			DeliveredAt: s.now(),
		}
		if err := s.ledger.Append(ctx, rec); err != nil {
			// Сообщение уже у шлюза, а запись не легла: журнал работает
			// в режиме at-least-once, фиксируем и идём дальше.
			s.log.Error().Err(err).
				Int64("user", user.ID).
				Int64("post", post.ID).
				Msg("не удалось записать журнал доставки")
			res.Failures = append(res.Failures, domain.SendFailure{PostIndex: i + 1, PostID: post.ID, Reason: "журнал: " + err.Error()})
		}
	}

	return res, nil
}
