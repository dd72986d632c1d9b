package error

import "net/http"

// GenericError is implemented by every typed error in this package so the
// Recovery middleware can map panics to structured HTTP responses.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type ValidationError string

func (err ValidationError) Error() string   { return string(err) }
func (err ValidationError) ErrCode() string { return "VALIDATION_ERROR" }
func (err ValidationError) StatusCode() int { return http.StatusBadRequest }

type NotFoundError string

func (err NotFoundError) Error() string   { return string(err) }
func (err NotFoundError) ErrCode() string { return "NOT_FOUND_ERROR" }
func (err NotFoundError) StatusCode() int { return http.StatusNotFound }

type RateLimitedError string

func (err RateLimitedError) Error() string   { return string(err) }
func (err RateLimitedError) ErrCode() string { return "RATE_LIMITED" }
func (err RateLimitedError) StatusCode() int { return http.StatusTooManyRequests }

type UnauthorizedError string

func (err UnauthorizedError) Error() string   { return string(err) }
func (err UnauthorizedError) ErrCode() string { return "UNAUTHORIZED" }
func (err UnauthorizedError) StatusCode() int { return http.StatusUnauthorized }

type internalServerError string

func (err internalServerError) Error() string   { return string(err) }
func (err internalServerError) ErrCode() string { return "INTERNAL_SERVER_ERROR" }
func (err internalServerError) StatusCode() int { return http.StatusInternalServerError }

func InternalServerError(message string) GenericError {
	return internalServerError(message)
}
