package ai

import (
	"bufio"
	"regexp"
	"strings"
)

var (
	narrationPrefix = regexp.MustCompile(`(?i)^\**\s*(narration|narrator|dm)\s*:\s*\**\s*`)
	choicesMarker   = regexp.MustCompile(`(?i)^\**\s*(choices|options|what do you do)\b`)
	blankLines      = regexp.MustCompile(`\n{3,}`)
)

// CleanNarration приводит ответ модели к чистому тексту повествования:
// убирает markdown-ограждения, префикс "Narration:", обрамляющие кавычки
// и хвост с вариантами выбора, который модели иногда добавляют.
func CleanNarration(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		if choicesMarker.MatchString(trimmed) {
			break
		}
		if len(lines) == 0 {
			trimmed = narrationPrefix.ReplaceAllString(trimmed, "")
			if trimmed == "" {
				continue
			}
			line = trimmed
		}
		lines = append(lines, line)
	}

	out := strings.TrimSpace(strings.Join(lines, "\n"))
	out = blankLines.ReplaceAllString(out, "\n\n")
	if len(out) >= 2 && out[0] == '"' && out[len(out)-1] == '"' && strings.Count(out, `"`) == 2 {
		out = strings.TrimSpace(out[1 : len(out)-1])
	}
	return out
}
