package domain

import (
	"errors"
	"fmt"
)

// AppError is a classified pipeline error. Two AppErrors match under
// errors.Is when their codes are equal, so callers can test for a kind
// without caring about the wrapped cause.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Pre-defined errors
var (
	ErrModelInit = &AppError{
		Code:    "MODEL_INIT",
		Message: "detector model failed to initialize",
	}

	ErrDetection = &AppError{
		Code:    "DETECTION",
		Message: "detection failed",
	}

	ErrIO = &AppError{
		Code:    "IO",
		Message: "frame read/write failed",
	}

	ErrCompositing = &AppError{
		Code:    "COMPOSITING",
		Message: "compositing failed",
	}

	ErrConfig = &AppError{
		Code:    "CONFIG",
		Message: "invalid configuration",
	}
)

// Kind reports the code of the first AppError in err's chain, or "UNKNOWN".
func Kind(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "UNKNOWN"
}
