package process

import (
	stderrors "errors"
	"fmt"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeValidation     = "VALIDATION_FAILED"
	ErrCodeInstanceState  = "INSTANCE_STATE"
	ErrCodeTransientStore = "TRANSIENT_STORE"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL"
)

// Error taxonomy. Callers never compare against these values directly, they
// classify with IsValidation, IsInstanceState and IsTransient.
var (
	// ErrValidation marks a malformed request. It is surfaced synchronously
	// and never retried.
	ErrValidation = apperrors.New("validation error", apperrors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	// ErrInstanceState marks a target process instance that was deleted or
	// completed concurrently. Jobs retry it and raise an incident once the
	// retries are exhausted.
	ErrInstanceState = apperrors.New("process instance state error", apperrors.CategoryConflict).
				WithTextCode(ErrCodeInstanceState)
	// ErrTransientStore marks optimistic locking conflicts and store timeouts.
	ErrTransientStore = apperrors.New("transient store error", apperrors.CategoryExternal).
				WithTextCode(ErrCodeTransientStore)
	ErrNotFound = apperrors.New("not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeNotFound)
	ErrInternal = apperrors.New("internal error", apperrors.CategoryHandler).
			WithTextCode(ErrCodeInternal)
)

// NewError clones base and attaches message, source and metadata.
func NewError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrInternal
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) *apperrors.Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...), nil, nil)
}

// InstanceStatef builds an instance state error with a formatted message.
func InstanceStatef(format string, args ...any) *apperrors.Error {
	return NewError(ErrInstanceState, fmt.Sprintf(format, args...), nil, nil)
}

// Transient wraps err as a retryable store failure.
func Transient(message string, err error, metadata map[string]any) *apperrors.Error {
	return NewError(ErrTransientStore, message, err, metadata)
}

// NotFoundf builds a not found error with a formatted message.
func NotFoundf(format string, args ...any) *apperrors.Error {
	return NewError(ErrNotFound, fmt.Sprintf(format, args...), nil, nil)
}

// Internalf builds an internal error with a formatted message.
func Internalf(format string, args ...any) *apperrors.Error {
	return NewError(ErrInternal, fmt.Sprintf(format, args...), nil, nil)
}

// Code returns the text code of the outermost categorised error in the chain.
func Code(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether any categorised error in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var ge *apperrors.Error
		if !stderrors.As(err, &ge) {
			return false
		}
		if ge.TextCode == code {
			return true
		}
		if ge.Source == nil {
			return false
		}
		err = ge.Source
	}
	return false
}

func IsValidation(err error) bool { return HasCode(err, ErrCodeValidation) }

func IsInstanceState(err error) bool { return HasCode(err, ErrCodeInstanceState) }

func IsTransient(err error) bool { return HasCode(err, ErrCodeTransientStore) }

func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// Message returns the human readable message of err, preferring the
// categorised message over the wrapped chain rendering.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ge *apperrors.Error
	if stderrors.As(err, &ge) && ge.Message != "" {
		return ge.Message
	}
	return err.Error()
}
