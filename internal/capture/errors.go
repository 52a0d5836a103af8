package capture

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures surfaced to callers.
type Kind string

// Failure kinds, one per caller-visible outcome.
const (
	KindValidation      Kind = "validation_rejected"
	KindUnauthorized    Kind = "unauthorized"
	KindRateLimited     Kind = "rate_limited"
	KindUpstreamFetch   Kind = "upstream_fetch_failed"
	KindPublishConflict Kind = "publish_conflict"
	KindPublishFailed   Kind = "publish_failed"
)

// Sentinels for errors.Is checks against *Error values.
var (
	ErrValidationRejected  = errors.New("validation rejected")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamFetchFailed = errors.New("upstream fetch failed")
	ErrPublishConflict     = errors.New("publish conflict")
	ErrPublishFailed       = errors.New("publish failed")
)

// ErrLinkNotFound is returned when no published link has the given slug.
var ErrLinkNotFound = errors.New("link not found")

var kindSentinels = map[Kind]error{
	KindValidation:      ErrValidationRejected,
	KindUnauthorized:    ErrUnauthorized,
	KindRateLimited:     ErrRateLimited,
	KindUpstreamFetch:   ErrUpstreamFetchFailed,
	KindPublishConflict: ErrPublishConflict,
	KindPublishFailed:   ErrPublishFailed,
}

// FetchFailure names why fetching a target failed.
type FetchFailure string

// Fetch failure reasons.
const (
	FetchTimedOut            FetchFailure = "timed_out"
	FetchTooLarge            FetchFailure = "too_large"
	FetchBadStatus           FetchFailure = "bad_status"
	FetchContentTypeMismatch FetchFailure = "content_type_mismatch"
	FetchBlockedRedirect     FetchFailure = "blocked_redirect"
	FetchTransport           FetchFailure = "transport"
)

// Error is the typed failure returned by the capture pipeline.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter int
	Step       string
	Reason     FetchFailure
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step %s)", msg, e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// HTTPStatus maps the failure onto a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamFetch:
		switch e.Reason {
		case FetchTimedOut:
			return http.StatusRequestTimeout
		case FetchBadStatus, FetchTransport:
			return http.StatusBadGateway
		default:
			return http.StatusBadRequest
		}
	case KindPublishConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Rejected builds a validation failure.
func Rejected(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

// Limited builds a rate limit failure carrying the retry hint in seconds.
// An empty msg falls back to "too many requests".
func Limited(msg string, retryAfter int) *Error {
	if msg == "" {
		msg = "too many requests"
	}
	return &Error{Kind: KindRateLimited, Message: msg, RetryAfter: retryAfter}
}

// UpstreamFailed builds a fetch failure for the given reason.
func UpstreamFailed(reason FetchFailure, msg string, err error) *Error {
	return &Error{Kind: KindUpstreamFetch, Reason: reason, Message: msg, Err: err}
}

// AsError extracts a *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
