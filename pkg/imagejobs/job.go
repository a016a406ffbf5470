package imagejobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrJobNotFound         = errors.New("image job not found")
	ErrNotRerenderable     = errors.New("image job cannot be rerendered")
	ErrJobTimeout          = errors.New("image job timed out")
	ErrJobRetriesExhausted = errors.New("image job retries exhausted")
	ErrPipelineClosed      = errors.New("image pipeline is shut down")
	ErrTooManyJobs         = errors.New("too many active image jobs")
	ErrInvalidRequest      = errors.New("invalid image request")
)

// Status статус задачи генерации.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Terminal сообщает, что статус больше не изменится.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Mode режим генерации.
type Mode string

const (
	ModePreview Mode = "preview"
	ModeHQ      Mode = "hq"
)

// Параметры режимов генерации.
const (
	PreviewSize       = "512x512"
	HQSize            = "1024x1024"
	PreviewSteps      = 20
	HQSteps           = 50
	PreviewETASeconds = 3
	HQETASeconds      = 12
)

// expectedDuration ожидаемая длительность попытки для расчёта прогресса.
func (m Mode) expectedDuration() time.Duration {
	if m == ModeHQ {
		return 15 * time.Second
	}
	return 4 * time.Second
}

func (m Mode) etaSeconds() int {
	if m == ModeHQ {
		return HQETASeconds
	}
	return PreviewETASeconds
}

func (m Mode) defaultSize() string {
	if m == ModeHQ {
		return HQSize
	}
	return PreviewSize
}

func (m Mode) steps() int {
	if m == ModeHQ {
		return HQSteps
	}
	return PreviewSteps
}

func (m Mode) quality() string {
	if m == ModeHQ {
		return "high"
	}
	return "fast"
}

// Request запрос на генерацию изображения.
type Request struct {
	OwnerID string `json:"owner_id,omitempty"`
	SceneID string `json:"scene_id"`
	Prompt  string `json:"prompt"`
	Mode    Mode   `json:"mode"`
	Seed    int64  `json:"seed"`
	Size    string `json:"size,omitempty"` // WxH, по умолчанию зависит от режима
}

// Ticket ответ на постановку задачи.
type Ticket struct {
	JobID      string `json:"job_id"`
	ETASeconds int    `json:"eta_seconds"`
	Status     Status `json:"status"`
}

// Result готовое изображение.
type Result struct {
	URL     string `json:"url"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Seed    int64  `json:"seed"`
	Steps   int    `json:"steps"`
	Prompt  string `json:"prompt"`
	Quality string `json:"quality"`
}

// Report состояние задачи для клиента.
type Report struct {
	JobID       string  `json:"job_id"`
	OwnerID     string  `json:"-"`
	SceneID     string  `json:"scene_id"`
	Mode        Mode    `json:"mode"`
	Status      Status  `json:"status"`
	Progress    int     `json:"progress"`
	ETASeconds  int     `json:"eta_seconds"`
	Attempts    int     `json:"attempts"`
	URL         string  `json:"url,omitempty"`
	FallbackURL string  `json:"fallback_url,omitempty"`
	ParentJobID string  `json:"parent_job_id,omitempty"`
	Result      *Result `json:"result,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// job внутреннее состояние задачи. Поля защищены mu.
type job struct {
	mu sync.Mutex

	id          string
	ownerID     string
	sceneID     string
	prompt      string
	mode        Mode
	seed        int64
	width       int
	height      int
	parentJobID string

	status      Status
	attempts    int
	progress    int // Последний отданный прогресс
	result      *Result
	err         error
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	cancel context.CancelFunc // Отмена текущей попытки
	retry  *time.Timer
}

// reportLocked строит отчёт. Вызывать под j.mu.
func (j *job) reportLocked(now time.Time) Report {
	r := Report{
		JobID:       j.id,
		OwnerID:     j.ownerID,
		SceneID:     j.sceneID,
		Mode:        j.mode,
		Status:      j.status,
		Attempts:    j.attempts,
		ParentJobID: j.parentJobID,
	}

	progress, eta := 0, j.mode.etaSeconds()
	switch j.status {
	case StatusGenerating:
		elapsed := now.Sub(j.startedAt)
		expected := j.mode.expectedDuration()
		progress = min(90, int(elapsed*100/expected))
		remaining := expected - elapsed
		eta = max(0, int((remaining+time.Second-1)/time.Second))
	case StatusReady, StatusFailed:
		progress, eta = 100, 0
	}
	// Прогресс не убывает, в том числе при повторной постановке в очередь.
	if progress < j.progress {
		progress = j.progress
	}
	j.progress = progress
	r.Progress = progress
	r.ETASeconds = eta

	if j.result != nil {
		r.Result = j.result
		r.URL = j.result.URL
	}
	if j.status != StatusReady {
		r.FallbackURL = FallbackImage(j.sceneID)
	}
	if j.err != nil {
		r.Error = j.err.Error()
	}
	return r
}

// parseSize разбирает WxH.
func parseSize(size string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(size)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: size %q", ErrInvalidRequest, size)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("%w: size %q", ErrInvalidRequest, size)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("%w: size %q", ErrInvalidRequest, size)
	}
	return width, height, nil
}
