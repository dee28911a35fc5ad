// Package errors defines the application error taxonomy and the helpers that
// log, report and retry around it.
package errors

import (
	"errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation = "E100"
	CodeDatabase   = "E200"
	CodeExternal   = "E300"
	CodeState      = "E400"
	CodeRateLimit  = "E500"
)

const defaultUserMessage = "خطایی رخ داد. لطفا کمی بعد دوباره تلاش کن"

// class is the fixed part of every error carrying a code.
type class struct {
	severity  Severity
	retryable bool
	userText  string
}

var classes = map[string]class{
	CodeValidation: {SeverityLow, false, "این گزینه معتبر نیست، لطفا یکی از دکمه‌ها رو انتخاب کن"},
	CodeDatabase:   {SeverityHigh, true, "مشکل موقتی پیش اومد، کمی بعد دوباره امتحان کن"},
	CodeExternal:   {SeverityMedium, true, "سرویس جستجو فعلا در دسترس نیست"},
	CodeState:      {SeverityMedium, false, "این مرحله تموم شده، از منوی اصلی دوباره شروع کن"},
	CodeRateLimit:  {SeverityLow, false, "درخواست‌ها زیاد شد، %d ثانیه دیگه دوباره امتحان کن"},
}

// AppError is an error the bot knows how to explain to the chat user.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func newAppError(code, msg string, cause error) *AppError {
	c := classes[code]
	return &AppError{
		Code:        code,
		Message:     msg,
		UserMessage: c.userText,
		Severity:    c.severity,
		Retryable:   c.retryable,
		cause:       cause,
	}
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func (e *AppError) Cause() error { return e.Unwrap() }

// As returns the outermost AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// NewValidationError reports bad caller input. cause may be nil.
func NewValidationError(msg string, cause error) *AppError {
	return newAppError(CodeValidation, msg, cause)
}

func NewDatabaseError(cause error) *AppError {
	msg := "database error"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return newAppError(CodeDatabase, msg, cause)
}

// NewExternalAPIError wraps a failed call to the named upstream.
func NewExternalAPIError(apiName string, cause error) *AppError {
	return newAppError(CodeExternal, "external api error: "+apiName, cause)
}

// NewStateError reports an operation that does not fit the current wizard step.
func NewStateError(msg string, cause error) *AppError {
	return newAppError(CodeState, msg, cause)
}

func NewRateLimitError(retryAfter int) *AppError {
	e := newAppError(CodeRateLimit, fmt.Sprintf("rate limit exceeded: retry after %ds", retryAfter), nil)
	e.UserMessage = fmt.Sprintf(e.UserMessage, retryAfter)
	return e
}
