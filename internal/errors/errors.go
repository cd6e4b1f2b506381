package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on code so wrapped instances compare equal to their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrInvalidPlan  = &AppError{Code: "PLAN_001", Message: "invalid medication plan"}
	ErrPlanNotFound = &AppError{Code: "PLAN_002", Message: "medication plan not found"}
	ErrPlanInUse    = &AppError{Code: "PLAN_003", Message: "medication plan has adherence history"}

	ErrStateConflict  = &AppError{Code: "LEDGER_001", Message: "adherence record already in a terminal state"}
	ErrRecordNotFound = &AppError{Code: "LEDGER_002", Message: "adherence record not found"}
	ErrInvalidStatus  = &AppError{Code: "LEDGER_003", Message: "invalid adherence status"}

	ErrConfigInvalid = &AppError{Code: "CONFIG_001", Message: "invalid configuration"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
