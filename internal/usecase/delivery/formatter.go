package delivery

import (
	"fmt"
	"html"
	"strings"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
)

// FormatPostMessage формирует текст одного сообщения: заголовок со
// ссылкой, суммаризация, статистика и счётчик позиции в выпуске.
func FormatPostMessage(post domain.Post, position, total int) string {
	var b strings.Builder

	title := strings.TrimSpace(post.Title)
	if title == "" {
		title = fmt.Sprintf("Пост %d", post.ID)
	}
	if url := strings.TrimSpace(post.URL); url != "" {
		b.WriteString(fmt.Sprintf("📰 <b><a href=\"%s\">%s</a></b>", html.EscapeString(url), html.EscapeString(title)))
	} else {
		b.WriteString("📰 <b>" + html.EscapeString(title) + "</b>")
	}

	if post.Summary != nil {
		if summary := strings.TrimSpace(*post.Summary); summary != "" {
			b.WriteString("\n\n" + html.EscapeString(summary))
		}
	}

	b.WriteString(fmt.Sprintf("\n\n⭐ %d · 💬 %d · %d/%d", post.Score, post.CommentCount, position, total))

	return b.String()
}
