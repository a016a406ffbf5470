package domain

import (
	"errors"
	"fmt"
	"strings"

	"fiction-server/pkg/dice"
)

// Общие ошибки движка ходов.
var (
	ErrInvalidDiceSpec     = dice.ErrInvalidDiceSpec
	ErrInvalidAbility      = errors.New("invalid ability")
	ErrIllegalTransition   = errors.New("illegal state transition")
	ErrValidationRejected  = errors.New("turn output rejected by validation")
	ErrToolExecutionFailed = errors.New("tool execution failed")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSceneNotFound       = errors.New("scene not found")
	ErrInsufficientFunds   = errors.New("insufficient gold")
	ErrItemNotFound        = errors.New("item not found")
)

// ValidationRejectedError несёт список ошибок валидатора.
type ValidationRejectedError struct {
	Errors []string
}

func (e *ValidationRejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationRejected, strings.Join(e.Errors, "; "))
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrValidationRejected).
func (e *ValidationRejectedError) Unwrap() error {
	return ErrValidationRejected
}

// ToolError описывает неуспешный шаг плана. Такой шаг не прерывает ход.
type ToolError struct {
	Tool    ToolName `json:"tool"`
	Step    int      `json:"step"`
	Message string   `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: step %d (%s): %s", ErrToolExecutionFailed, e.Step, e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	return ErrToolExecutionFailed
}
