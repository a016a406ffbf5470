package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	delivery "fiction-server/internal/delivery/http"
	"fiction-server/internal/domain"
	"fiction-server/internal/service"
	"fiction-server/internal/service/mocks"
	"fiction-server/pkg/dice"
	"fiction-server/pkg/imagejobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type notifierSpy struct {
	sessions []string
}

func (n *notifierSpy) SendToSession(sessionID, messageType, topic string, payload any) {
	n.sessions = append(n.sessions, sessionID+":"+messageType)
}

func newServer(t *testing.T, orch *mocks.OrchestratorService, notifier delivery.Notifier, checks map[string]delivery.HealthCheck) http.Handler {
	t.Helper()
	h := delivery.New(orch, nil, notifier, nil)
	return delivery.NewRouter(h, delivery.RouterConfig{
		BasePath:       "/api",
		AllowedOrigins: []string{"http://localhost:3000"},
		HealthChecks:   checks,
	}, nil)
}

func do(t *testing.T, srv http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTurn(t *testing.T) {
	orch := new(mocks.OrchestratorService)
	spy := &notifierSpy{}
	resp := &domain.TurnResponse{
		TurnOutput: domain.TurnOutput{Narration: "You look around.", Choices: []string{"Go north"}},
		SessionID:  "s1",
		TurnCount:  1,
	}
	orch.On("SubmitTurn", mock.Anything, domain.TurnRequest{
		SessionID:   "s1",
		PlayerID:    "player-7",
		PlayerInput: "I look around",
	}).Return(resp, nil).Once()

	rec := do(t, newServer(t, orch, spy, nil), http.MethodPost, "/api/turns",
		map[string]string{"session_id": "s1", "player_input": "I look around"},
		"X-Player-ID", "player-7")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got domain.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "You look around.", got.Narration)
	assert.Equal(t, []string{"s1:turn_completed"}, spy.sessions)
	orch.AssertExpectations(t)
}

func TestSubmitTurn_Validation(t *testing.T) {
	orch := new(mocks.OrchestratorService)
	srv := newServer(t, orch, nil, nil)

	rec := do(t, srv, http.MethodPost, "/api/turns", map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "PlayerInput: required")

	rec = do(t, srv, http.MethodPost, "/api/turns", map[string]string{"player_input": "look", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	orch.On("SubmitTurn", mock.Anything, mock.Anything).Return(nil, service.ErrEmptyInput).Once()
	rec = do(t, srv, http.MethodPost, "/api/turns", map[string]string{"player_input": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	orch.AssertExpectations(t)
}

func TestSubmitTurn_LongInputIsNotRejectedByValidation(t *testing.T) {
	orch := new(mocks.OrchestratorService)
	long := strings.Repeat("look around ", 60)
	orch.On("SubmitTurn", mock.Anything, mock.MatchedBy(func(req domain.TurnRequest) bool {
		return req.PlayerInput == long
	})).Return(&domain.TurnResponse{
		TurnOutput: domain.TurnOutput{Narration: "You pause.", Choices: []string{"Look around"}},
		SessionID:  "s1",
	}, nil).Once()

	rec := do(t, newServer(t, orch, nil, nil), http.MethodPost, "/api/turns", map[string]string{"player_input": long})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	orch.AssertExpectations(t)
}

func TestSessionRoutes(t *testing.T) {
	orch := new(mocks.OrchestratorService)
	srv := newServer(t, orch, nil, nil)

	orch.On("ListSessions", mock.Anything).Return(nil, nil).Once()
	rec := do(t, srv, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	orch.On("GetSession", mock.Anything, "missing").
		Return(nil, fmt.Errorf("%w: missing", domain.ErrSessionNotFound)).Once()
	rec = do(t, srv, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	orch.On("TraceFor", mock.Anything, "s1", 5).Return([]*domain.Trace{{ID: "t1", SessionID: "s1", Turn: 2}}, nil).Once()
	rec = do(t, srv, http.MethodGet, "/api/sessions/s1/traces?limit=5", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"t1"`)

	orch.On("ShutdownSession", mock.Anything, "s1").Return(nil).Once()
	rec = do(t, srv, http.MethodDelete, "/api/sessions/s1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	orch.AssertExpectations(t)
}

func TestImageRoutes(t *testing.T) {
	orch := new(mocks.OrchestratorService)
	srv := newServer(t, orch, nil, nil)

	orch.On("RequestImage", mock.Anything, "s1", domain.ImageArgs{SceneID: "tavern", Mode: domain.ImageModePreview}).
		Return(imagejobs.Ticket{JobID: "job-1", ETASeconds: 3, Status: imagejobs.StatusQueued}, nil).Once()
	rec := do(t, srv, http.MethodPost, "/api/images", map[string]string{"session_id": "s1", "scene_id": "tavern", "mode": "preview"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job_id":"job-1"`)

	rec = do(t, srv, http.MethodPost, "/api/images", map[string]string{"session_id": "s1", "scene_id": "tavern", "mode": "ultra"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	orch.On("ImageStatus", "job-1").Return(imagejobs.Report{JobID: "job-1", Status: imagejobs.StatusReady, Progress: 100}, nil).Once()
	rec = do(t, srv, http.MethodGet, "/api/images/job-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	orch.On("ImageStatus", "nope").Return(imagejobs.Report{}, imagejobs.ErrJobNotFound).Once()
	rec = do(t, srv, http.MethodGet, "/api/images/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	orch.On("RequestHQ", mock.Anything, "job-2").Return(imagejobs.Ticket{}, imagejobs.ErrNotRerenderable).Once()
	rec = do(t, srv, http.MethodPost, "/api/images/job-2/hq", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	orch.On("RequestHQ", mock.Anything, "job-3").Return(imagejobs.Ticket{}, service.ErrImagesDisabled).Once()
	rec = do(t, srv, http.MethodPost, "/api/images/job-3/hq", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	orch.AssertExpectations(t)
}

func TestRoll(t *testing.T) {
	srv := newServer(t, new(mocks.OrchestratorService), nil, nil)

	first := do(t, srv, http.MethodGet, "/api/rng/roll?spec=2d6%2B1&seed=42", nil)
	second := do(t, srv, http.MethodGet, "/api/rng/roll?spec=2d6%2B1&seed=42", nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, first.Body.String(), second.Body.String())

	var res dice.Result
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &res))
	expected, err := dice.Roll(42, "2d6+1")
	require.NoError(t, err)
	assert.Equal(t, expected.Total, res.Total)
	assert.Len(t, res.Rolls, 2)

	adv := do(t, srv, http.MethodGet, "/api/rng/roll?seed=7&mode=advantage&modifier=3", nil)
	require.Equal(t, http.StatusOK, adv.Code)
	require.NoError(t, json.Unmarshal(adv.Body.Bytes(), &res))
	assert.Len(t, res.Draws, 2)
	assert.Equal(t, 3, res.Modifier)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/rng/roll?spec=2d6", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/rng/roll?spec=d&seed=1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/rng/roll?seed=1&mode=lucky", nil).Code)
}

func TestStatsHealthAndMetrics(t *testing.T) {
	orch := new(mocks.OrchestratorService)
	orch.On("Stats").Return(service.Stats{ActiveSessions: 2, TotalTurns: 10}).Once()
	failing := map[string]delivery.HealthCheck{
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}

	srv := newServer(t, orch, nil, nil)
	rec := do(t, srv, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_sessions":2`)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", nil).Code)
	rec = do(t, newServer(t, orch, nil, failing), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	rec = do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/unknown", nil).Code)
	orch.AssertExpectations(t)
}

func TestCORS(t *testing.T) {
	srv := newServer(t, new(mocks.OrchestratorService), nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/turns", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
