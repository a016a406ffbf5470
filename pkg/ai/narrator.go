package ai

import (
	"context"
	"fmt"
	"time"

	"fiction-server/internal/domain"

	"github.com/rs/zerolog"
)

// Narrator генерирует текст хода через Client с ограниченным числом попыток.
type Narrator struct {
	client  Client
	cfg     Config
	counter TokenCounter
	logger  zerolog.Logger
}

// NarratorOption настраивает Narrator.
type NarratorOption func(*Narrator)

// WithTokenCounter подменяет счётчик токенов.
func WithTokenCounter(counter TokenCounter) NarratorOption {
	return func(n *Narrator) { n.counter = counter }
}

// NewNarrator создаёт рассказчика поверх клиента.
func NewNarrator(client Client, cfg Config, logger zerolog.Logger, opts ...NarratorOption) *Narrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	n := &Narrator{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "Narrator").Str("model", client.Model()).Logger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.counter == nil {
		n.counter = NewTokenCounter(client.Model())
	}
	return n
}

// Generate возвращает повествование для хода. Пустой или неудачный ответ
// повторяется до MaxAttempts раз с линейной задержкой.
func (n *Narrator) Generate(ctx context.Context, req domain.NarrationRequest) (string, error) {
	if req.MaxWords <= 0 {
		req.MaxWords = n.cfg.MaxWords
	}
	prompt := BuildNarrationPrompt(req, n.cfg.MaxPromptTokens, n.counter)
	if len(prompt.Dropped) > 0 {
		n.logger.Debug().Strs("dropped", prompt.Dropped).Int("tokens", prompt.Tokens).Msg("Prompt trimmed to token budget")
	}

	params := GenerationParams{}
	if n.cfg.Temperature > 0 {
		params.Temperature = &n.cfg.Temperature
	}
	if n.cfg.TopP > 0 {
		params.TopP = &n.cfg.TopP
	}
	if n.cfg.MaxTokens > 0 {
		params.MaxTokens = &n.cfg.MaxTokens
	}

	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		text, _, err := n.client.GenerateText(ctx, prompt.System, prompt.User, params)
		if err == nil {
			if narration := CleanNarration(text); narration != "" {
				return narration, nil
			}
			err = fmt.Errorf("%w: response has no narration", ErrGenerationFailed)
		}
		lastErr = err
		n.logger.Warn().Err(err).Int("attempt", attempt).Msg("Narration attempt failed")

		if attempt == n.cfg.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, n.cfg.BaseRetryDelay*time.Duration(attempt)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("narration failed after %d attempts: %w", n.cfg.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
