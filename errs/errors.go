package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable identifier for a class of failure. Edges map kinds to
// transport status codes; core components never see HTTP.
type Kind string

const (
	KindInputInvalid       Kind = "INPUT_INVALID"
	KindUnsupportedFormat  Kind = "UNSUPPORTED_FORMAT"
	KindFileTooLarge       Kind = "FILE_TOO_LARGE"
	KindSecurityRejected   Kind = "SECURITY_REJECTED"
	KindCodecFailed        Kind = "CODEC_FAILED"
	KindCacheUnavailable   Kind = "CACHE_UNAVAILABLE"
	KindQueueFull          Kind = "QUEUE_FULL"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindJobNotFound        Kind = "JOB_NOT_FOUND"
	KindJobAlreadyTerminal Kind = "JOB_ALREADY_TERMINAL"
	KindInternal           Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap annotates err with a kind and message. A nil err yields a plain
// kind error so callers can wrap unconditionally.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from err, walking the wrap chain.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the human-readable message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// HTTPStatus maps an error kind to the status code the HTTP edge returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInputInvalid:
		return http.StatusBadRequest
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindSecurityRejected:
		return http.StatusBadRequest
	case KindCodecFailed:
		return http.StatusBadRequest
	case KindQueueFull:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindJobNotFound:
		return http.StatusNotFound
	case KindJobAlreadyTerminal:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
