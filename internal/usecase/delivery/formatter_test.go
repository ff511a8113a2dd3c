package delivery

import (
	"strings"
	"testing"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
)

func TestFormatPostMessage(t *testing.T) {
	post := domain.Post{
		ID:           10,
		Title:        "Go 1.25 <released>",
		URL:          "https://example.com/go",
		Score:        120,
		CommentCount: 42,
		Summary:      summary("Новый релиз & изменения рантайма"),
	}

	text := FormatPostMessage(post, 2, 5)
	if !strings.Contains(text, `<a href="https://example.com/go">`) {
		t.Fatalf("ожидали ссылку на пост: %q", text)
	}
	if !strings.Contains(text, "Go 1.25 &lt;released&gt;") {
		t.Fatalf("заголовок должен экранироваться: %q", text)
	}
	if !strings.Contains(text, "Новый релиз &amp; изменения рантайма") {
		t.Fatalf("суммаризация должна экранироваться: %q", text)
	}
	if !strings.Contains(text, "⭐ 120 · 💬 42 · 2/5") {
		t.Fatalf("ожидали статистику и счётчик позиции: %q", text)
	}
}

func TestFormatPostMessageWithoutURL(t *testing.T) {
	post := domain.Post{ID: 3, Title: "Ask HN", Score: 5, Summary: summary("текст")}
	text := FormatPostMessage(post, 1, 1)
	if strings.Contains(text, "<a href=") {
		t.Fatalf("без URL ссылки быть не должно: %q", text)
	}
	if !strings.Contains(text, "1/1") {
		t.Fatalf("счётчик позиции обязателен: %q", text)
	}
}
