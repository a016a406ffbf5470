package ai_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fiction-server/internal/domain"
	"fiction-server/pkg/ai"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params ai.GenerationParams) (string, ai.UsageInfo, error) {
	args := m.Called(ctx, systemPrompt, userInput, params)
	return args.String(0), args.Get(1).(ai.UsageInfo), args.Error(2)
}

func (m *mockClient) Model() string { return "test-model" }

func narratorConfig() ai.Config {
	return ai.Config{
		ClientType:      ai.ClientOpenAI,
		Model:           "test-model",
		MaxAttempts:     3,
		BaseRetryDelay:  time.Millisecond,
		Temperature:     0.7,
		MaxTokens:       400,
		MaxPromptTokens: 2000,
		MaxWords:        120,
	}
}

func narrationRequest() domain.NarrationRequest {
	return domain.NarrationRequest{
		Scene:        domain.DefaultScene(),
		Character:    domain.NewCharacter("Aria"),
		PlayerAction: "I look around",
		AgeRating:    domain.RatingTeen,
	}
}

func TestNarrator_Success(t *testing.T) {
	client := new(mockClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(p ai.GenerationParams) bool {
		return p.MaxTokens != nil && *p.MaxTokens == 400 && p.Temperature != nil && p.TopP == nil
	})).Return("Narration: The fire crackles warmly.", ai.UsageInfo{}, nil).Once()

	n := ai.NewNarrator(client, narratorConfig(), zerolog.Nop(), ai.WithTokenCounter(ai.WordTokenCounter))
	text, err := n.Generate(context.Background(), narrationRequest())

	require.NoError(t, err)
	assert.Equal(t, "The fire crackles warmly.", text)
	client.AssertExpectations(t)
}

func TestNarrator_PromptCarriesRequest(t *testing.T) {
	client := new(mockClient)
	var system, user string
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			system = args.String(1)
			user = args.String(2)
		}).
		Return("You nod.", ai.UsageInfo{}, nil)

	req := narrationRequest()
	req.Feedback = []string{"Content policy violation: profanity"}
	n := ai.NewNarrator(client, narratorConfig(), zerolog.Nop(), ai.WithTokenCounter(ai.WordTokenCounter))
	_, err := n.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, system, "under 120 words")
	assert.Contains(t, system, "Content rating: Teen")
	assert.Contains(t, user, `## Player Action: "I look around"`)
	assert.Contains(t, user, "- Content policy violation: profanity")
}

func TestNarrator_RetriesThenSucceeds(t *testing.T) {
	client := new(mockClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, errors.New("503")).Once()
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("```\n```", ai.UsageInfo{}, nil).Once()
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("You push the door open.", ai.UsageInfo{}, nil).Once()

	n := ai.NewNarrator(client, narratorConfig(), zerolog.Nop(), ai.WithTokenCounter(ai.WordTokenCounter))
	text, err := n.Generate(context.Background(), narrationRequest())

	require.NoError(t, err)
	assert.Equal(t, "You push the door open.", text)
	client.AssertNumberOfCalls(t, "GenerateText", 3)
}

func TestNarrator_AttemptsExhausted(t *testing.T) {
	client := new(mockClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, ai.ErrGenerationFailed)

	cfg := narratorConfig()
	cfg.MaxAttempts = 2
	n := ai.NewNarrator(client, cfg, zerolog.Nop(), ai.WithTokenCounter(ai.WordTokenCounter))
	_, err := n.Generate(context.Background(), narrationRequest())

	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "after 2 attempts")
	client.AssertNumberOfCalls(t, "GenerateText", 2)
}

func TestNarrator_ContextCancelledDuringBackoff(t *testing.T) {
	client := new(mockClient)
	client.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, errors.New("boom"))

	cfg := narratorConfig()
	cfg.BaseRetryDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	n := ai.NewNarrator(client, cfg, zerolog.Nop(), ai.WithTokenCounter(ai.WordTokenCounter))
	_, err := n.Generate(ctx, narrationRequest())

	assert.ErrorIs(t, err, context.Canceled)
	client.AssertNumberOfCalls(t, "GenerateText", 1)
}
