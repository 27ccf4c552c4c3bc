package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind classifies an error for the client-facing envelope
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindBadRequest          Kind = "BAD_REQUEST"
	KindInvalidAmount       Kind = "INVALID_AMOUNT"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindUnprocessable       Kind = "UNPROCESSABLE"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// AppError is a domain error that knows how it should be rendered
type AppError struct {
	Kind    Kind
	Message string
	Err     error
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

// Is matches on Kind so callers can write errors.Is(err, apperror.ErrNotFound)
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Status maps the error kind to an HTTP status code
func (e *AppError) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest, KindInvalidAmount, KindInsufficientBalance:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is comparisons. They carry no message.
var (
	ErrNotFound            = &AppError{Kind: KindNotFound}
	ErrConflict            = &AppError{Kind: KindConflict}
	ErrBadRequest          = &AppError{Kind: KindBadRequest}
	ErrInvalidAmount       = &AppError{Kind: KindInvalidAmount}
	ErrInsufficientBalance = &AppError{Kind: KindInsufficientBalance}
	ErrUnauthorized        = &AppError{Kind: KindUnauthorized}
	ErrForbidden           = &AppError{Kind: KindForbidden}
	ErrUnprocessable       = &AppError{Kind: KindUnprocessable}
	ErrInternal            = &AppError{Kind: KindInternal}
)

func NotFound(msg string) *AppError            { return &AppError{Kind: KindNotFound, Message: msg} }
func Conflict(msg string) *AppError            { return &AppError{Kind: KindConflict, Message: msg} }
func BadRequest(msg string) *AppError          { return &AppError{Kind: KindBadRequest, Message: msg} }
func InvalidAmount(msg string) *AppError       { return &AppError{Kind: KindInvalidAmount, Message: msg} }
func InsufficientBalance(msg string) *AppError { return &AppError{Kind: KindInsufficientBalance, Message: msg} }
func Unauthorized(msg string) *AppError        { return &AppError{Kind: KindUnauthorized, Message: msg} }
func Forbidden(msg string) *AppError           { return &AppError{Kind: KindForbidden, Message: msg} }
func Unprocessable(msg string) *AppError       { return &AppError{Kind: KindUnprocessable, Message: msg} }

// Internal wraps a storage or infrastructure failure
func Internal(msg string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: msg, Err: err}
}

// Postgres SQLSTATEs raised when concurrent transactions collide
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// IsTransient reports whether err is a deadlock or serialization failure.
// The transaction was rolled back and may be retried as a whole.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

// FromDB translates GORM errors into domain errors. The DB must be opened
// with TranslateError enabled for duplicate keys to be recognised.
func FromDB(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(notFoundMsg)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Conflict("resource already exists")
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return NotFound(notFoundMsg)
	}
	if IsTransient(err) {
		return &AppError{Kind: KindConflict, Message: "concurrent update, please retry", Err: err}
	}
	return Internal("database error", err)
}

// As extracts an *AppError, treating anything else as internal
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal server error", err)
}
