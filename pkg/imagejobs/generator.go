package imagejobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// GenerateParams параметры одной попытки генерации.
type GenerateParams struct {
	Prompt  string
	Seed    int64
	Width   int
	Height  int
	Steps   int
	Quality string
}

// Generator создаёт изображение. Должен уважать отмену ctx.
type Generator interface {
	Generate(ctx context.Context, params GenerateParams) (Result, error)
}

// GeneratorFunc адаптер функции к Generator.
type GeneratorFunc func(ctx context.Context, params GenerateParams) (Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, params GenerateParams) (Result, error) {
	return f(ctx, params)
}

// MockGenerator синтетический генератор: детерминированная задержка по seed
// и ссылка на picsum.photos.
type MockGenerator struct {
	BaseURL      string
	PreviewDelay time.Duration
	HQDelay      time.Duration
	Jitter       time.Duration // Добавка до Jitter, выбирается по seed

	mu    sync.Mutex
	calls int
}

// NewMockGenerator создаёт генератор с задержками, близкими к реальным.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		BaseURL:      "https://picsum.photos",
		PreviewDelay: time.Second,
		HQDelay:      8 * time.Second,
		Jitter:       3 * time.Second,
	}
}

// Delay возвращает задержку для параметров.
func (g *MockGenerator) Delay(params GenerateParams) time.Duration {
	base := g.PreviewDelay
	if params.Quality == ModeHQ.quality() {
		base = g.HQDelay
	}
	if g.Jitter <= 0 {
		return base
	}
	seed := params.Seed
	if seed < 0 {
		seed = -seed
	}
	return base + g.Jitter*time.Duration(seed%100)/100
}

// Calls количество вызовов Generate.
func (g *MockGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *MockGenerator) Generate(ctx context.Context, params GenerateParams) (Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	timer := time.NewTimer(g.Delay(params))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
	}

	url := fmt.Sprintf("%s/%d/%d", g.BaseURL, params.Width, params.Height)
	if params.Seed != 0 {
		url = fmt.Sprintf("%s?random=%d", url, params.Seed)
	}
	return Result{
		URL:     url,
		Width:   params.Width,
		Height:  params.Height,
		Seed:    params.Seed,
		Steps:   params.Steps,
		Prompt:  params.Prompt,
		Quality: params.Quality,
	}, nil
}
