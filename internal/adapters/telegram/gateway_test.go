package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessagePrefersLineBoundaries(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("a", 3000))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("b", 2000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 500))

	parts := splitMessage(builder.String())
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > messageLimit {
			t.Fatalf("часть %d превышает лимит: %d", i, length)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatalf("первая часть должна закончиться на границе строки")
	}
	if !strings.HasSuffix(parts[1], strings.Repeat("c", 500)) {
		t.Fatalf("хвост текста должен попасть во вторую часть")
	}
}

func TestSplitMessageHardCutsLongLine(t *testing.T) {
	parts := splitMessage(strings.Repeat("я", messageLimit*2+10))
	if len(parts) != 3 {
		t.Fatalf("ожидали 3 части, получили %d", len(parts))
	}
	total := 0
	for i, part := range parts {
		length := len([]rune(part))
		if length > messageLimit {
			t.Fatalf("часть %d превышает лимит: %d", i, length)
		}
		total += length
	}
	if total != messageLimit*2+10 {
		t.Fatalf("при разрезе по рунам текст не должен теряться: %d", total)
	}
}

func TestSplitMessageShortText(t *testing.T) {
	parts := splitMessage("привет, мир")
	if len(parts) != 1 || parts[0] != "привет, мир" {
		t.Fatalf("короткий текст уходит одной частью: %q", parts)
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := splitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("пустой текст не даёт частей, получили %d", len(parts))
	}
}
