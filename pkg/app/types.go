package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deploymenttheory/go-qdl/internal/device"
	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
)

// ProgressUpdate represents progress of a transfer in bytes
type ProgressUpdate struct {
	Message     string
	Completed   int64
	Total       int64
	StartedAt   time.Time
	ElapsedTime time.Duration
}

// Percent calculates completion percentage
func (p *ProgressUpdate) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int((p.Completed * 100) / p.Total)
}

// Rate calculates bytes per second
func (p *ProgressUpdate) Rate() float64 {
	if p.ElapsedTime == 0 {
		return 0
	}
	return float64(p.Completed) / p.ElapsedTime.Seconds()
}

// ETA estimates time to completion
func (p *ProgressUpdate) ETA() time.Duration {
	if p.Completed == 0 || p.Total == 0 {
		return 0
	}
	rate := p.Rate()
	if rate == 0 {
		return 0
	}
	remaining := p.Total - p.Completed
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeConnection     = "CONNECTION"
	ErrCodeNotConfigured  = "NOT_CONFIGURED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBadTable       = "BAD_PARTITION_TABLE"
	ErrCodeBadResponse    = "BAD_RESPONSE"
	ErrCodeRefused        = "DEVICE_REFUSED"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeNotImplemented = "NOT_IMPLEMENTED"
	ErrCodeInternal       = "INTERNAL"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Classify wraps err in a CommonError whose code reflects the failure kind.
// Errors that already are CommonErrors are returned unchanged.
func Classify(message string, err error) *CommonError {
	if err == nil {
		return nil
	}
	var common *CommonError
	if errors.As(err, &common) {
		return common
	}

	var (
		connErr   *device.ConnectionError
		modeErr   *device.UnsupportedModeError
		notFound  *device.NotFoundError
		slotErr   *device.InvalidSlotError
		parseErr  *device.ParseError
		formatErr *gpt.FormatError
		tooLarge  *device.ImageTooLargeError
		alignErr  *device.AlignmentError
	)
	code := ErrCodeInternal
	switch {
	case errors.As(err, &connErr), errors.As(err, &modeErr):
		code = ErrCodeConnection
	case errors.Is(err, device.ErrNotConfigured):
		code = ErrCodeNotConfigured
	case errors.As(err, &notFound), errors.Is(err, device.ErrSlotNotFound):
		code = ErrCodeNotFound
	case errors.As(err, &slotErr), errors.As(err, &tooLarge), errors.As(err, &alignErr):
		code = ErrCodeInvalidInput
	case errors.As(err, &formatErr):
		code = ErrCodeBadTable
	case errors.As(err, &parseErr):
		code = ErrCodeBadResponse
	case errors.Is(err, device.ErrStorageInfoNotImplemented):
		code = ErrCodeNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	}
	return NewError(code, message, err)
}
