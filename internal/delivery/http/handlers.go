package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fiction-server/internal/delivery/http/middleware"
	"fiction-server/internal/domain"
	"fiction-server/internal/service"
	"fiction-server/pkg/dice"
	"fiction-server/pkg/imagejobs"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// Notifier рассылает события подписчикам сессии.
type Notifier interface {
	SendToSession(sessionID, messageType, topic string, payload any)
}

// Handler представляет HTTP обработчик
type Handler struct {
	orchestrator service.OrchestratorService
	roller       *dice.Roller
	notifier     Notifier
	validate     *validator.Validate
	logger       *zap.Logger
}

// New создает новый экземпляр обработчика. roller и notifier могут быть nil.
func New(orchestrator service.OrchestratorService, roller *dice.Roller, notifier Notifier, logger *zap.Logger) *Handler {
	if roller == nil {
		roller = dice.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		orchestrator: orchestrator,
		roller:       roller,
		notifier:     notifier,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API (относительно базового пути)
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/turns", h.SubmitTurn).Methods(http.MethodPost)

	router.HandleFunc("/sessions", h.ListSessions).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{id}", h.ShutdownSession).Methods(http.MethodDelete)
	router.HandleFunc("/sessions/{id}/traces", h.GetTraces).Methods(http.MethodGet)

	router.HandleFunc("/images", h.RequestImage).Methods(http.MethodPost)
	router.HandleFunc("/images/{jobId}", h.GetImageStatus).Methods(http.MethodGet)
	router.HandleFunc("/images/{jobId}/hq", h.RequestHQ).Methods(http.MethodPost)

	router.HandleFunc("/rng/roll", h.Roll).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
}

type turnRequest struct {
	SessionID   string `json:"session_id" validate:"omitempty,max=64"`
	PlayerID    string `json:"player_id" validate:"omitempty,max=64"`
	PlayerInput string `json:"player_input" validate:"required"` // Длину проверяет модерация хода
	SceneID     string `json:"scene_id" validate:"omitempty,max=64"`
}

// SubmitTurn обрабатывает ход игрока
func (h *Handler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.PlayerID == "" {
		req.PlayerID, _ = middleware.GetPlayerIDFromContext(r.Context())
	}

	resp, err := h.orchestrator.SubmitTurn(r.Context(), domain.TurnRequest{
		SessionID:   req.SessionID,
		PlayerID:    req.PlayerID,
		PlayerInput: req.PlayerInput,
		SceneID:     req.SceneID,
	})
	if err != nil {
		h.respondWithServiceError(w, r, err, "ошибка при обработке хода")
		return
	}
	if h.notifier != nil {
		h.notifier.SendToSession(resp.SessionID, "turn_completed", "turns", resp)
	}
	RespondWithJSON(w, http.StatusOK, resp)
}

// ListSessions возвращает список последних сессий
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.orchestrator.ListSessions(r.Context())
	if err != nil {
		h.respondWithServiceError(w, r, err, "ошибка при получении списка сессий")
		return
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	RespondWithJSON(w, http.StatusOK, sessions)
}

// GetSession возвращает сессию по ID
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.orchestrator.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, r, err, "ошибка при получении сессии")
		return
	}
	RespondWithJSON(w, http.StatusOK, session)
}

// ShutdownSession сохраняет сессию и выгружает её из памяти
func (h *Handler) ShutdownSession(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.ShutdownSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondWithServiceError(w, r, err, "ошибка при завершении сессии")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTraces возвращает журналы последних ходов сессии
func (h *Handler) GetTraces(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 0 // Значение по умолчанию задаёт оркестратор
	}
	if limit > 500 {
		limit = 500
	}
	traces, err := h.orchestrator.TraceFor(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.respondWithServiceError(w, r, err, "ошибка при получении журнала ходов")
		return
	}
	RespondWithJSON(w, http.StatusOK, traces)
}

type imageRequest struct {
	SessionID string `json:"session_id" validate:"required,max=64"`
	SceneID   string `json:"scene_id" validate:"required,max=64"`
	Prompt    string `json:"prompt" validate:"omitempty,max=1000"`
	Mode      string `json:"mode" validate:"omitempty,oneof=preview hq"`
}

// RequestImage ставит задачу на изображение сцены
func (h *Handler) RequestImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if !h.decode(w, r, &req) {
		return
	}
	ticket, err := h.orchestrator.RequestImage(r.Context(), req.SessionID, domain.ImageArgs{
		SceneID: req.SceneID,
		Prompt:  req.Prompt,
		Mode:    domain.ImageMode(req.Mode),
	})
	if err != nil {
		h.respondWithServiceError(w, r, err, "ошибка при постановке задачи")
		return
	}
	RespondWithJSON(w, http.StatusAccepted, ticket)
}

// GetImageStatus возвращает состояние задачи на изображение
func (h *Handler) GetImageStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.orchestrator.ImageStatus(mux.Vars(r)["jobId"])
	if err != nil {
		h.respondWithServiceError(w, r, err, "ошибка при получении статуса задачи")
		return
	}
	RespondWithJSON(w, http.StatusOK, report)
}

// RequestHQ запускает перерисовку готового preview в высоком качестве
func (h *Handler) RequestHQ(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.orchestrator.RequestHQ(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		h.respondWithServiceError(w, r, err, "ошибка при постановке HQ задачи")
		return
	}
	RespondWithJSON(w, http.StatusAccepted, ticket)
}

type rollQuery struct {
	Spec     string `validate:"omitempty,max=32"`
	Seed     int64
	Mode     string `validate:"omitempty,oneof=normal advantage disadvantage"`
	Modifier int    `validate:"gte=-30,lte=30"`
}

// Roll детерминированный бросок: одинаковые seed и spec дают одинаковый результат.
// Без spec бросается d20 с модификатором и режимом.
func (h *Handler) Roll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seed, err := strconv.ParseInt(q.Get("seed"), 10, 64)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "параметр seed обязателен и должен быть целым числом")
		return
	}
	query := rollQuery{Spec: strings.TrimSpace(q.Get("spec")), Seed: seed, Mode: q.Get("mode")}
	if raw := q.Get("modifier"); raw != "" {
		if query.Modifier, err = strconv.Atoi(raw); err != nil {
			RespondWithError(w, http.StatusBadRequest, "параметр modifier должен быть целым числом")
			return
		}
	}
	if err := h.validate.Struct(query); err != nil {
		RespondWithError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	var result dice.Result
	switch {
	case query.Spec != "":
		result, err = h.roller.Roll(query.Seed, query.Spec)
		if err != nil {
			h.respondWithServiceError(w, r, err, "ошибка броска")
			return
		}
	case query.Mode == "advantage":
		result = h.roller.Advantage(query.Seed, query.Modifier)
	case query.Mode == "disadvantage":
		result = h.roller.Disadvantage(query.Seed, query.Modifier)
	default:
		result = h.roller.D20(query.Seed, query.Modifier)
	}
	RespondWithJSON(w, http.StatusOK, result)
}

// Stats возвращает сводку оркестратора
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, h.orchestrator.Stats())
}

// decode читает JSON тело и проверяет его тегами validate.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("неверный формат запроса: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		RespondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Sprintf("неверный запрос: %v", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return "неверный запрос: " + strings.Join(parts, "; ")
}

// statusFor сопоставляет ошибки сервиса кодам HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrSceneNotFound),
		errors.Is(err, imagejobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyInput),
		errors.Is(err, domain.ErrInvalidDiceSpec),
		errors.Is(err, imagejobs.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, imagejobs.ErrNotRerenderable):
		return http.StatusConflict
	case errors.Is(err, imagejobs.ErrTooManyJobs):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrImagesDisabled),
		errors.Is(err, imagejobs.ErrPipelineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error, message string) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("path", r.URL.Path),
			zap.String("requestID", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
	}
	RespondWithError(w, code, fmt.Sprintf("%s: %v", message, err))
}

// RespondWithError отправляет ошибку в формате JSON
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithJSON отправляет ответ в формате JSON
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
