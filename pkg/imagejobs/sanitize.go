package imagejobs

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxPromptLength = 200
	defaultPrompt   = "fantasy adventure scene"
)

var (
	directivePattern  = regexp.MustCompile(`\[.*?\]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	disallowedPattern = regexp.MustCompile(`(?i)\b(?:nude|naked|sexual|explicit|gore|violence)\b`)
)

// SanitizePrompt готовит промпт для генератора: убирает [директивы] и
// недопустимые слова, схлопывает пробелы и обрезает до 200 символов.
func SanitizePrompt(prompt string) string {
	s := directivePattern.ReplaceAllString(prompt, "")
	s = disallowedPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))

	if utf8.RuneCountInString(s) > maxPromptLength {
		s = string([]rune(s)[:maxPromptLength]) + "..."
	}
	if s == "" {
		return defaultPrompt
	}
	return s
}

var fallbackImages = []struct {
	keyword string
	url     string
}{
	{"tavern", "https://via.placeholder.com/512x512/8B4513/FFE4B5?text=Tavern"},
	{"dungeon", "https://via.placeholder.com/512x512/2F2F2F/8A8A8A?text=Dungeon"},
	{"forest", "https://via.placeholder.com/512x512/228B22/90EE90?text=Forest"},
	{"castle", "https://via.placeholder.com/512x512/708090/F5F5DC?text=Castle"},
}

const defaultFallbackImage = "https://via.placeholder.com/512x512/4682B4/F0F8FF?text=Adventure"

// FallbackImage возвращает заглушку по ключевому слову в идентификаторе сцены.
func FallbackImage(sceneID string) string {
	id := strings.ToLower(sceneID)
	for _, f := range fallbackImages {
		if strings.Contains(id, f.keyword) {
			return f.url
		}
	}
	return defaultFallbackImage
}
