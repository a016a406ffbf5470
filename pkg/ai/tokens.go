package ai

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// TokenCounter считает токены в тексте.
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc адаптер функции к TokenCounter.
type TokenCounterFunc func(text string) int

func (f TokenCounterFunc) Count(text string) int { return f(text) }

// WordTokenCounter грубая оценка: четыре токена на три слова.
var WordTokenCounter = TokenCounterFunc(func(text string) int {
	return (len(strings.Fields(text))*4 + 2) / 3
})

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter возвращает счётчик tiktoken для модели. Для незнакомых
// моделей берётся cl100k_base, а если словарь недоступен, то оценка по словам.
func NewTokenCounter(model string) TokenCounter {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return tiktokenCounter{enc: enc}
	}
	if enc, err := tiktoken.GetEncoding(fallbackEncoding); err == nil {
		return tiktokenCounter{enc: enc}
	}
	return WordTokenCounter
}
