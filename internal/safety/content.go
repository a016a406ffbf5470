package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"fiction-server/internal/domain"
)

// Category категория запрещённого контента.
type Category string

const (
	CategoryExplicit  Category = "explicit"
	CategoryProfanity Category = "profanity"
	CategorySensitive Category = "sensitive"
)

// DefaultTerms стандартные списки терминов по категориям.
var DefaultTerms = map[Category][]string{
	CategoryExplicit:  {"explicit sexual", "graphic violence", "gore", "torture", "rape", "sexual assault", "abuse"},
	CategoryProfanity: {"fuck", "shit", "damn", "hell", "bitch", "asshole"},
	CategorySensitive: {"suicide", "self-harm", "drug abuse"},
}

// forbiddenByRating какие категории запрещены для рейтинга.
var forbiddenByRating = map[domain.AgeRating][]Category{
	domain.RatingTeen:  {CategoryExplicit, CategoryProfanity, CategorySensitive},
	domain.RatingAdult: {CategoryExplicit},
}

var redactions = map[Category]string{
	CategoryExplicit:  "[content removed]",
	CategoryProfanity: "[expletive]",
	CategorySensitive: "[sensitive content]",
}

// ForbiddenCategories возвращает запрещённые категории. Неизвестный рейтинг считается Teen.
func ForbiddenCategories(rating domain.AgeRating) []Category {
	if cats, ok := forbiddenByRating[rating]; ok {
		return cats
	}
	return forbiddenByRating[domain.RatingTeen]
}

// Match найденное нарушение.
type Match struct {
	Category Category `json:"category"`
	Term     string   `json:"term"`
	Position int      `json:"position"`
}

// Classifier классифицирует текст по спискам терминов.
type Classifier struct {
	terms    map[Category][]string
	patterns map[Category]*regexp.Regexp
}

// NewClassifier компилирует списки терминов. nil означает DefaultTerms.
func NewClassifier(terms map[Category][]string) *Classifier {
	if terms == nil {
		terms = DefaultTerms
	}
	c := &Classifier{
		terms:    make(map[Category][]string, len(terms)),
		patterns: make(map[Category]*regexp.Regexp, len(terms)),
	}
	for cat, list := range terms {
		c.terms[cat] = append([]string(nil), list...)
		if re := compileTerms(list); re != nil {
			c.patterns[cat] = re
		}
	}
	return c
}

// WithTerms возвращает классификатор с дополнительными терминами категории.
func (c *Classifier) WithTerms(cat Category, extra ...string) *Classifier {
	merged := make(map[Category][]string, len(c.terms))
	for k, v := range c.terms {
		merged[k] = append([]string(nil), v...)
	}
	merged[cat] = append(merged[cat], extra...)
	return NewClassifier(merged)
}

func compileTerms(list []string) *regexp.Regexp {
	quoted := make([]string, 0, len(list))
	for _, t := range list {
		t = strings.TrimSpace(t)
		if t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	// Длинные термины раньше коротких, чтобы "drug abuse" не терялось за "abuse".
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Check возвращает нарушения, запрещённые для рейтинга.
func (c *Classifier) Check(text string, rating domain.AgeRating) []Match {
	var matches []Match
	for _, cat := range ForbiddenCategories(rating) {
		re, ok := c.patterns[cat]
		if !ok {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{Category: cat, Term: strings.ToLower(text[loc[0]:loc[1]]), Position: loc[0]})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Position < matches[j].Position })
	return matches
}

// Allowed сообщает, что текст допустим для рейтинга.
func (c *Classifier) Allowed(text string, rating domain.AgeRating) bool {
	return len(c.Check(text, rating)) == 0
}

// Sanitize заменяет нарушения на нейтральные вставки.
func (c *Classifier) Sanitize(text string, rating domain.AgeRating) (string, []Match) {
	matches := c.Check(text, rating)
	if len(matches) == 0 {
		return text, nil
	}
	out := text
	for _, cat := range ForbiddenCategories(rating) {
		if re, ok := c.patterns[cat]; ok {
			out = re.ReplaceAllString(out, redactions[cat])
		}
	}
	return out, matches
}

// Moderation результат модерации ввода игрока.
type Moderation struct {
	Allowed     bool    `json:"allowed"`
	Reason      string  `json:"reason,omitempty"`
	Alternative string  `json:"alternative,omitempty"`
	Input       string  `json:"input"`
	Matches     []Match `json:"matches,omitempty"`
}

const (
	maxPlayerInputLength = 1000
	spamRunLength        = 11
)

// ModeratePlayerInput проверяет ввод игрока: контент, спам, длину.
func (c *Classifier) ModeratePlayerInput(input string, rating domain.AgeRating) Moderation {
	if matches := c.Check(input, rating); len(matches) > 0 {
		return Moderation{
			Allowed:     false,
			Reason:      "Content violates community guidelines",
			Alternative: "Please rephrase your action in a more appropriate way",
			Matches:     matches,
		}
	}
	if hasRun(input, spamRunLength) {
		return Moderation{
			Allowed:     false,
			Reason:      "Spam detected",
			Alternative: "Please provide a meaningful action",
		}
	}
	if utf8.RuneCountInString(input) > maxPlayerInputLength {
		return Moderation{
			Allowed:     false,
			Reason:      "Input too long",
			Alternative: fmt.Sprintf("Please keep your action under %d characters", maxPlayerInputLength),
		}
	}
	return Moderation{Allowed: true, Input: strings.TrimSpace(input)}
}

// hasRun ищет n одинаковых символов подряд.
func hasRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

var imagePromptRules = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\b(?:nude|naked|sexual|explicit|nsfw)\b`), "clothed"},
	{regexp.MustCompile(`(?i)\b(?:gore|graphic violence|blood)\b`), "action"},
	{regexp.MustCompile(`(?i)\b(?:hate|nazi|racist)\b`), ""},
}

var multiSpace = regexp.MustCompile(`\s+`)

// ValidateImagePrompt проверяет промпт изображения и возвращает безопасный вариант.
func ValidateImagePrompt(prompt string) (safe bool, warnings []string, sanitized string) {
	safe = true
	for _, rule := range imagePromptRules {
		if m := rule.re.FindString(prompt); m != "" {
			safe = false
			warnings = append(warnings, fmt.Sprintf("inappropriate image content detected: %q", strings.ToLower(m)))
		}
	}
	if safe {
		return true, nil, prompt
	}
	return false, warnings, SanitizeImagePrompt(prompt)
}

// SanitizeImagePrompt заменяет недопустимые слова в промпте изображения.
func SanitizeImagePrompt(prompt string) string {
	out := prompt
	for _, rule := range imagePromptRules {
		out = rule.re.ReplaceAllString(out, rule.replacement)
	}
	return strings.TrimSpace(multiSpace.ReplaceAllString(out, " "))
}
