package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/metrics"
)

// ParseReactionCallback разбирает payload кнопки вида "react:up:123".
func ParseReactionCallback(data string) (domain.Reaction, int64, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != "react" {
		return domain.ReactionNone, 0, false
	}
	var reaction domain.Reaction
	switch parts[1] {
	case "up":
		reaction = domain.ReactionUp
	case "down":
		reaction = domain.ReactionDown
	default:
		return domain.ReactionNone, 0, false
	}
	postID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || postID <= 0 {
		return domain.ReactionNone, 0, false
	}
	return reaction, postID, true
}

// Reactor записывает реакции пользователей в журнал доставки.
type Reactor struct {
	bot    *tgbotapi.BotAPI
	users  domain.UserRepo
	ledger domain.DeliveryRepo
	log    zerolog.Logger
}

// NewReactor создаёт обработчик реакций.
func NewReactor(bot *tgbotapi.BotAPI, users domain.UserRepo, ledger domain.DeliveryRepo, log zerolog.Logger) *Reactor {
	return &Reactor{bot: bot, users: users, ledger: ledger, log: log}
}

// HandleCallback обрабатывает нажатие кнопки реакции.
func (r *Reactor) HandleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	reaction, postID, ok := ParseReactionCallback(cb.Data)
	if !ok {
		return nil
	}

	user, err := r.users.GetByTGChatID(ctx, cb.Message.Chat.ID)
	if err != nil {
		return fmt.Errorf("пользователь по чату: %w", err)
	}
	if err := r.ledger.SetReaction(ctx, user.ID, postID, reaction); err != nil {
		return err
	}

	start := time.Now()
	_, err = r.bot.Request(tgbotapi.NewCallback(cb.ID, "Принято"))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.Message.Chat.ID, 10), start, err)
	if err != nil {
		r.log.Warn().Err(err).Msg("не удалось ответить на callback")
	}
	return nil
}
