package statemachine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fiction-server/internal/domain"
	"fiction-server/internal/statemachine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock управляемое время для проверок длительности.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func next(state domain.TurnState) statemachine.Handler {
	return func(context.Context, *domain.TurnContext) (domain.TurnState, error) {
		return state, nil
	}
}

// registerHappyPath регистрирует обработчики полного прохода без ошибок.
func registerHappyPath(m *statemachine.Machine) {
	m.Register(domain.StatePlan, next(domain.StateToolExec), nil)
	m.Register(domain.StateToolExec, next(domain.StateReduce), nil)
	m.Register(domain.StateReduce, next(domain.StateSafety), nil)
	m.Register(domain.StateSafety, next(domain.StateRender), nil)
	m.Register(domain.StateRender, next(domain.StateAwaitInput), nil)
}

func TestTransitionLegality(t *testing.T) {
	legal := map[domain.TurnState][]domain.TurnState{
		domain.StateIdle:       {domain.StatePlan, domain.StateRecover},
		domain.StatePlan:       {domain.StateToolExec, domain.StateReduce, domain.StateRecover},
		domain.StateToolExec:   {domain.StateReduce, domain.StateRecover},
		domain.StateReduce:     {domain.StateSafety, domain.StateRecover},
		domain.StateSafety:     {domain.StateRender, domain.StatePlan, domain.StateRecover},
		domain.StateRender:     {domain.StateAwaitInput, domain.StateRecover},
		domain.StateAwaitInput: {domain.StatePlan, domain.StateIdle, domain.StateRecover},
		domain.StateRecover:    {domain.StateAwaitInput, domain.StateIdle},
	}

	for _, from := range domain.AllStates {
		for _, to := range domain.AllStates {
			want := false
			for _, s := range legal[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, statemachine.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition(t *testing.T) {
	t.Run("legal transition is recorded", func(t *testing.T) {
		m := statemachine.New()
		snap := domain.TransitionSnapshot{Revision: 1, Steps: 2}

		require.NoError(t, m.Transition(domain.StatePlan, snap))

		assert.Equal(t, domain.StatePlan, m.Current())
		history := m.History()
		require.Len(t, history, 1)
		assert.Equal(t, domain.StateIdle, history[0].From)
		assert.Equal(t, domain.StatePlan, history[0].To)
		assert.Equal(t, snap, history[0].Snapshot)
		assert.False(t, history[0].At.IsZero())
	})

	t.Run("illegal transition fails and leaves state unchanged", func(t *testing.T) {
		m := statemachine.New()

		err := m.Transition(domain.StateRender, domain.TransitionSnapshot{})

		assert.ErrorIs(t, err, domain.ErrIllegalTransition)
		assert.Equal(t, domain.StateIdle, m.Current())
		assert.Empty(t, m.History())
	})

	t.Run("history is a copy", func(t *testing.T) {
		m := statemachine.New()
		require.NoError(t, m.Transition(domain.StatePlan, domain.TransitionSnapshot{}))

		h := m.History()
		h[0].To = domain.StateRender

		assert.Equal(t, domain.StatePlan, m.History()[0].To)
	})

	t.Run("history limit keeps the latest entries", func(t *testing.T) {
		m := statemachine.New(statemachine.WithHistoryLimit(2))
		require.NoError(t, m.Transition(domain.StatePlan, domain.TransitionSnapshot{}))
		require.NoError(t, m.Transition(domain.StateReduce, domain.TransitionSnapshot{}))
		require.NoError(t, m.Transition(domain.StateSafety, domain.TransitionSnapshot{}))

		h := m.History()
		require.Len(t, h, 2)
		assert.Equal(t, domain.StateReduce, h[0].To)
		assert.Equal(t, domain.StateSafety, h[1].To)
		assert.Equal(t, 3, m.Metrics().TotalTransitions)
	})
}

func TestRun_HappyPath(t *testing.T) {
	m := statemachine.New()
	registerHappyPath(m)
	tc := &domain.TurnContext{}

	require.NoError(t, m.Transition(domain.StatePlan, tc.Snapshot()))
	final := m.Run(context.Background(), tc, 20)

	assert.Equal(t, domain.StateAwaitInput, final)
	assert.False(t, tc.Recovered)
	assert.Len(t, m.History(), 6)
}

func TestStep_HandlerErrorGoesToRecover(t *testing.T) {
	m := statemachine.New()
	registerHappyPath(m)
	boom := errors.New("tool crashed")
	m.Register(domain.StateToolExec, func(context.Context, *domain.TurnContext) (domain.TurnState, error) {
		return "", boom
	}, nil)
	tc := &domain.TurnContext{}

	require.NoError(t, m.Transition(domain.StatePlan, tc.Snapshot()))
	final := m.Run(context.Background(), tc, 20)

	assert.Equal(t, domain.StateAwaitInput, final)
	assert.True(t, tc.Recovered)
	assert.ErrorIs(t, tc.LastErr, boom)
	require.NotNil(t, tc.Output)
	assert.Equal(t, statemachine.FallbackNarration, tc.Output.Narration)
	assert.Equal(t, statemachine.FallbackChoices(), tc.Output.Choices)

	history := m.History()
	var sawRecover bool
	for _, tr := range history {
		if tr.To == domain.StateRecover {
			sawRecover = true
			assert.Equal(t, domain.StateToolExec, tr.From)
			assert.Equal(t, "tool crashed", tr.Snapshot.Error)
		}
	}
	assert.True(t, sawRecover)
}

func TestStep_ErrorHandlerChoosesNextState(t *testing.T) {
	m := statemachine.New()
	registerHappyPath(m)
	var handled error
	m.Register(domain.StateToolExec,
		func(context.Context, *domain.TurnContext) (domain.TurnState, error) {
			return "", errors.New("partial failure")
		},
		func(_ context.Context, _ *domain.TurnContext, err error) domain.TurnState {
			handled = err
			return domain.StateReduce
		},
	)
	tc := &domain.TurnContext{}

	require.NoError(t, m.Transition(domain.StatePlan, tc.Snapshot()))
	require.NoError(t, m.Transition(domain.StateToolExec, tc.Snapshot()))

	state := m.Step(context.Background(), tc)

	assert.Equal(t, domain.StateReduce, state)
	assert.EqualError(t, handled, "partial failure")
	assert.False(t, m.InErrorState())
}

func TestStep_IllegalNextStateGoesToRecover(t *testing.T) {
	m := statemachine.New()
	m.Register(domain.StatePlan, next(domain.StateRender), nil)
	tc := &domain.TurnContext{}
	require.NoError(t, m.Transition(domain.StatePlan, tc.Snapshot()))

	state := m.Step(context.Background(), tc)

	assert.Equal(t, domain.StateRecover, state)
	assert.True(t, m.InErrorState())
	assert.ErrorIs(t, tc.LastErr, domain.ErrIllegalTransition)
}

func TestStep_IllegalErrorHandlerChoiceGoesToRecover(t *testing.T) {
	m := statemachine.New()
	m.Register(domain.StatePlan,
		func(context.Context, *domain.TurnContext) (domain.TurnState, error) {
			return "", errors.New("planner down")
		},
		func(context.Context, *domain.TurnContext, error) domain.TurnState {
			return domain.StateRender
		},
	)
	tc := &domain.TurnContext{}
	require.NoError(t, m.Transition(domain.StatePlan, tc.Snapshot()))

	assert.Equal(t, domain.StateRecover, m.Step(context.Background(), tc))
}

func TestStep_PanicIsRecovered(t *testing.T) {
	m := statemachine.New()
	m.Register(domain.StatePlan, func(context.Context, *domain.TurnContext) (domain.TurnState, error) {
		panic("nil scene")
	}, nil)
	tc := &domain.TurnContext{}
	require.NoError(t, m.Transition(domain.StatePlan, tc.Snapshot()))

	final := m.Run(context.Background(), tc, 10)

	assert.Equal(t, domain.StateAwaitInput, final)
	assert.True(t, tc.Recovered)
	require.Error(t, tc.LastErr)
	assert.Contains(t, tc.LastErr.Error(), "nil scene")
}

func TestStep_MissingHandlerGoesToRecover(t *testing.T) {
	m := statemachine.New()
	tc := &domain.TurnContext{}
	require.NoError(t, m.Transition(domain.StatePlan, tc.Snapshot()))

	assert.Equal(t, domain.StateRecover, m.Step(context.Background(), tc))
	assert.Equal(t, domain.StateAwaitInput, m.Step(context.Background(), tc))
}

func TestRecover(t *testing.T) {
	t.Run("replaces a rejected draft with the fallback", func(t *testing.T) {
		m := statemachine.New()
		tc := &domain.TurnContext{Output: &domain.TurnOutput{Narration: "rejected draft"}}
		require.NoError(t, m.ForceRecover(tc, errors.New("rejected")))

		state := m.Step(context.Background(), tc)

		assert.Equal(t, domain.StateAwaitInput, state)
		assert.Equal(t, statemachine.FallbackNarration, tc.Output.Narration)
	})

	t.Run("custom handler can extend the fallback", func(t *testing.T) {
		m := statemachine.New()
		m.Register(domain.StateRecover, func(_ context.Context, tc *domain.TurnContext) (domain.TurnState, error) {
			tc.Output.Choices = append(tc.Output.Choices, "Go north")
			return domain.StateAwaitInput, nil
		}, nil)
		tc := &domain.TurnContext{}
		require.NoError(t, m.ForceRecover(tc, nil))

		m.Step(context.Background(), tc)

		assert.Contains(t, tc.Output.Choices, "Go north")
		assert.Equal(t, statemachine.FallbackNarration, tc.Output.Narration)
	})

	t.Run("failing custom handler still ends at await input", func(t *testing.T) {
		m := statemachine.New()
		m.Register(domain.StateRecover, func(_ context.Context, tc *domain.TurnContext) (domain.TurnState, error) {
			tc.Output.Narration = ""
			return domain.StateIdle, errors.New("recover broke")
		}, nil)
		tc := &domain.TurnContext{}
		require.NoError(t, m.ForceRecover(tc, nil))

		assert.Equal(t, domain.StateAwaitInput, m.Step(context.Background(), tc))
		assert.Equal(t, statemachine.FallbackNarration, tc.Output.Narration)
		assert.True(t, tc.Recovered)
	})
}

func TestRun_TransitionLimitForcesRecover(t *testing.T) {
	m := statemachine.New()
	// Safety бесконечно возвращает в Plan.
	m.Register(domain.StatePlan, next(domain.StateReduce), nil)
	m.Register(domain.StateReduce, next(domain.StateSafety), nil)
	m.Register(domain.StateSafety, next(domain.StatePlan), nil)
	tc := &domain.TurnContext{}
	require.NoError(t, m.Transition(domain.StatePlan, tc.Snapshot()))

	final := m.Run(context.Background(), tc, 9)

	assert.Equal(t, domain.StateAwaitInput, final)
	assert.True(t, tc.Recovered)
	assert.Contains(t, tc.LastErr.Error(), "transition limit")
}

func TestReset(t *testing.T) {
	m := statemachine.New()
	require.NoError(t, m.Transition(domain.StatePlan, domain.TransitionSnapshot{}))

	m.Reset()

	assert.Equal(t, domain.StateIdle, m.Current())
	assert.Empty(t, m.History())
	assert.Equal(t, 0, m.Metrics().TotalTransitions)
}

func TestDurationAndMetrics(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := statemachine.New(statemachine.WithClock(clock.Now))

	clock.Advance(2 * time.Second)
	require.NoError(t, m.Transition(domain.StatePlan, domain.TransitionSnapshot{}))
	clock.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, m.StateDuration())

	require.NoError(t, m.Transition(domain.StateRecover, domain.TransitionSnapshot{}))
	assert.True(t, m.InErrorState())
	clock.Advance(time.Second)
	require.NoError(t, m.Transition(domain.StateAwaitInput, domain.TransitionSnapshot{}))

	metrics := m.Metrics()
	assert.Equal(t, domain.StateAwaitInput, metrics.CurrentState)
	assert.Equal(t, 3, metrics.TotalTransitions)
	assert.Equal(t, map[domain.TurnState]int{
		domain.StatePlan:       1,
		domain.StateRecover:    1,
		domain.StateAwaitInput: 1,
	}, metrics.StateDistribution)
	assert.Equal(t, 2*time.Second, metrics.AverageStay)
}
