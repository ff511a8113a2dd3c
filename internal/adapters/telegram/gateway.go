package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/metrics"
)

// ErrEmptyMessage возвращается при попытке отправить пустой текст.
var ErrEmptyMessage = errors.New("пустое сообщение")

// Gateway реализует domain.Gateway через Telegram Bot API.
type Gateway struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

var _ domain.Gateway = (*Gateway)(nil)

// NewGateway создаёт шлюз.
func NewGateway(bot *tgbotapi.BotAPI, log zerolog.Logger) *Gateway {
	return &Gateway{bot: bot, log: log}
}

// Send отправляет сообщение, при необходимости разбивая его на части
// под лимит Telegram. Возвращает ID первого сообщения. Кнопки реакции
// вешаются на последнюю часть.
func (g *Gateway) Send(ctx context.Context, chatID int64, msg domain.Message) (int, error) {
	parts := splitMessage(msg.Text)
	if len(parts) == 0 {
		return 0, ErrEmptyMessage
	}

	firstID := 0
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return firstID, err
		}

		out := tgbotapi.NewMessage(chatID, part)
		out.ParseMode = tgbotapi.ModeHTML
		if i == len(parts)-1 && msg.FeedbackPostID != 0 {
			out.ReplyMarkup = feedbackKeyboard(msg.FeedbackPostID)
		}

		start := time.Now()
		sent, err := g.bot.Send(out)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			return firstID, fmt.Errorf("отправка в Telegram: %w", err)
		}
		if i == 0 {
			firstID = sent.MessageID
		}
	}
	return firstID, nil
}

// messageLimit — лимит Telegram на длину одного сообщения в рунах.
const messageLimit = 4096

// splitMessage режет текст под лимит Telegram. Строки пакуются в части
// жадно, разрезы проходят по границам строк, чтобы не рвать
// HTML-разметку; строка длиннее лимита режется по рунам.
func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= messageLimit {
		return []string{text}
	}

	var parts []string
	var buf []rune
	flush := func() {
		chunk := strings.Trim(string(buf), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > messageLimit {
			flush()
			parts = append(parts, string(runes[:messageLimit]))
			runes = runes[messageLimit:]
		}
		if len(buf) > 0 && len(buf)+1+len(runes) > messageLimit {
			flush()
		}
		if len(buf) > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, runes...)
	}
	flush()
	return parts
}

func feedbackKeyboard(postID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍", fmt.Sprintf("react:up:%d", postID)),
			tgbotapi.NewInlineKeyboardButtonData("👎", fmt.Sprintf("react:down:%d", postID)),
		),
	)
}
