package domain

import "strings"

// StyleKey выбирает вариант рендера и суммаризации для пользователя.
// Пользователи с одинаковым ключом группируются, чтобы суммаризация
// считалась один раз на пост для всей группы.
type StyleKey string

const (
	StyleConcise  StyleKey = "concise"
	StyleDetailed StyleKey = "detailed"
	StyleCasual   StyleKey = "casual"

	// StyleDefault применяется, когда стиль не задан или неизвестен.
	StyleDefault = StyleConcise
)

// ResolveStyleKey нормализует сырой ключ стиля. Разрешается один раз
// при загрузке пользователя, а не в каждой точке вызова.
func ResolveStyleKey(raw string) StyleKey {
	switch StyleKey(strings.ToLower(strings.TrimSpace(raw))) {
	case StyleConcise:
		return StyleConcise
	case StyleDetailed:
		return StyleDetailed
	case StyleCasual:
		return StyleCasual
	default:
		return StyleDefault
	}
}
