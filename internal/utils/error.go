package utils

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes
const (
	// Engine and connection errors
	ErrCodeUnsupportedEngine   = "UNSUPPORTED_ENGINE"
	ErrCodeInvalidConfig       = "INVALID_CONFIG"
	ErrCodeConnectionFailed    = "CONNECTION_FAILED"
	ErrCodeNotConnected        = "NOT_CONNECTED"
	ErrCodeQueryFailed         = "QUERY_FAILED"
	ErrCodeRequestMismatch     = "REQUEST_MISMATCH"
	ErrCodeInvalidDocumentOp   = "INVALID_DOCUMENT_OPERATION"
	ErrCodeSchemaIntrospection = "SCHEMA_INTROSPECTION_FAILED"

	// SQL validation errors
	ErrCodeEmptySQL            = "EMPTY_SQL"
	ErrCodeDangerousOperation  = "DANGEROUS_OPERATION"
	ErrCodeDisallowedStatement = "DISALLOWED_STATEMENT"
	ErrCodeMalformedCTE        = "MALFORMED_CTE"

	// Secret errors
	ErrCodeDecryptionFailed = "DECRYPTION_FAILED"
)

// Sentinels for errors.Is; an AppError matches any sentinel with the same code.
var (
	ErrUnsupportedEngine   = &AppError{Code: ErrCodeUnsupportedEngine}
	ErrInvalidConfig       = &AppError{Code: ErrCodeInvalidConfig}
	ErrConnection          = &AppError{Code: ErrCodeConnectionFailed}
	ErrNotConnected        = &AppError{Code: ErrCodeNotConnected}
	ErrQueryFailed         = &AppError{Code: ErrCodeQueryFailed}
	ErrRequestMismatch     = &AppError{Code: ErrCodeRequestMismatch}
	ErrInvalidDocumentOp   = &AppError{Code: ErrCodeInvalidDocumentOp}
	ErrSchemaIntrospection = &AppError{Code: ErrCodeSchemaIntrospection}
	ErrEmptySQL            = &AppError{Code: ErrCodeEmptySQL}
	ErrDangerousOperation  = &AppError{Code: ErrCodeDangerousOperation}
	ErrDisallowedStatement = &AppError{Code: ErrCodeDisallowedStatement}
	ErrMalformedCTE        = &AppError{Code: ErrCodeMalformedCTE}
	ErrDecryption          = &AppError{Code: ErrCodeDecryptionFailed}
)

// AppError represents an application error with additional context
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = getDefaultMessage(e.Code)
	}
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on code so wrapped AppErrors compare equal to the sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ErrorBuilder provides a fluent interface for creating errors
type ErrorBuilder struct {
	code    string
	message string
	details []string
	cause   error
}

// NewErrorBuilder creates a new error builder
func NewErrorBuilder(code string) *ErrorBuilder {
	return &ErrorBuilder{code: code}
}

// WithMessage sets the error message
func (eb *ErrorBuilder) WithMessage(message string) *ErrorBuilder {
	eb.message = message
	return eb
}

// WithDetail appends a key=value detail; empty values are skipped.
func (eb *ErrorBuilder) WithDetail(key, value string) *ErrorBuilder {
	if value != "" {
		eb.details = append(eb.details, key+"="+value)
	}
	return eb
}

// WithCause sets the underlying error cause
func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.cause = cause
	return eb
}

// Build constructs the final AppError
func (eb *ErrorBuilder) Build() *AppError {
	if eb.message == "" {
		eb.message = getDefaultMessage(eb.code)
	}

	return &AppError{
		Code:    eb.code,
		Message: eb.message,
		Details: strings.Join(eb.details, " "),
		Cause:   eb.cause,
	}
}

func getDefaultMessage(code string) string {
	messages := map[string]string{
		ErrCodeUnsupportedEngine:   "Unsupported database engine",
		ErrCodeInvalidConfig:       "Invalid connection configuration",
		ErrCodeConnectionFailed:    "Database connection failed",
		ErrCodeNotConnected:        "Adapter is not connected",
		ErrCodeQueryFailed:         "Query execution failed",
		ErrCodeRequestMismatch:     "Request kind not supported by engine",
		ErrCodeInvalidDocumentOp:   "Invalid document operation",
		ErrCodeSchemaIntrospection: "Schema introspection failed",
		ErrCodeEmptySQL:            "SQL query is empty",
		ErrCodeDangerousOperation:  "Dangerous SQL operation detected",
		ErrCodeDisallowedStatement: "Only read-only statements are allowed",
		ErrCodeMalformedCTE:        "WITH statement must contain a SELECT",
		ErrCodeDecryptionFailed:    "Failed to decrypt secret",
	}

	if msg, exists := messages[code]; exists {
		return msg
	}
	return "Unknown error"
}

// Convenience functions for common error types

func NewUnsupportedEngineError(dbType string, available []string) *AppError {
	return NewErrorBuilder(ErrCodeUnsupportedEngine).
		WithMessage(fmt.Sprintf("unsupported database type: %s", dbType)).
		WithDetail("available", strings.Join(available, ",")).
		Build()
}

func NewInvalidConfigError(connectionID string, cause error) *AppError {
	return NewErrorBuilder(ErrCodeInvalidConfig).
		WithDetail("connection", connectionID).
		WithCause(cause).
		Build()
}

func NewConnectionError(dbType string, cause error) *AppError {
	return NewErrorBuilder(ErrCodeConnectionFailed).
		WithDetail("engine", dbType).
		WithCause(cause).
		Build()
}

func NewNotConnectedError(dbType string) *AppError {
	return NewErrorBuilder(ErrCodeNotConnected).
		WithMessage("query called on an adapter that is not connected").
		WithDetail("engine", dbType).
		Build()
}

func NewQueryError(dbType, request string, cause error) *AppError {
	return NewErrorBuilder(ErrCodeQueryFailed).
		WithDetail("engine", dbType).
		WithDetail("query", request).
		WithCause(cause).
		Build()
}

func NewRequestMismatchError(dbType, request string) *AppError {
	return NewErrorBuilder(ErrCodeRequestMismatch).
		WithMessage(fmt.Sprintf("%s engine cannot run %s requests", dbType, request)).
		Build()
}

func NewInvalidDocumentOpError(cause error) *AppError {
	return NewErrorBuilder(ErrCodeInvalidDocumentOp).
		WithCause(cause).
		Build()
}

func NewSchemaIntrospectionError(dbType, table string, cause error) *AppError {
	return NewErrorBuilder(ErrCodeSchemaIntrospection).
		WithDetail("engine", dbType).
		WithDetail("table", table).
		WithCause(cause).
		Build()
}

func NewDecryptionError(cause error) *AppError {
	return NewErrorBuilder(ErrCodeDecryptionFailed).
		WithCause(cause).
		Build()
}

// IsErrorType checks if an error chain contains an AppError with the given code
func IsErrorType(err error, code string) bool {
	return ErrorCode(err) == code
}

// ErrorCode returns the code of the first AppError in the chain, or "".
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRecoverable reports whether the caller can fix the failure by submitting
// a different query.
func IsRecoverable(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeEmptySQL, ErrCodeDangerousOperation, ErrCodeDisallowedStatement, ErrCodeMalformedCTE:
		return true
	default:
		return false
	}
}
