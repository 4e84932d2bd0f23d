// Package apperror defines the error taxonomy shared by the back-office
// components and its mapping onto HTTP status codes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how a caller has to react to it.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindAuth              Kind = "auth"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindTransientProvider Kind = "transient_provider"
	KindPermanentProvider Kind = "permanent_provider"
)

// Error carries a kind, a stable machine-readable reason and the wrapped
// cause. Reason is safe to return to external callers, Err is not.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAuth              = &Error{Kind: KindAuth}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrTransientProvider = &Error{Kind: KindTransientProvider}
	ErrPermanentProvider = &Error{Kind: KindPermanentProvider}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind, and on reason too when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validation(reason string, err error) *Error { return newError(KindValidation, reason, err) }
func Auth(reason string, err error) *Error       { return newError(KindAuth, reason, err) }
func NotFound(reason string, err error) *Error   { return newError(KindNotFound, reason, err) }
func Conflict(reason string, err error) *Error   { return newError(KindConflict, reason, err) }

func TransientProvider(reason string, err error) *Error {
	return newError(KindTransientProvider, reason, err)
}

func PermanentProvider(reason string, err error) *Error {
	return newError(KindPermanentProvider, reason, err)
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the reason of the first *Error in the chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Retryable reports whether the operation may succeed when repeated.
func Retryable(err error) bool {
	return KindOf(err) == KindTransientProvider
}

// HTTPStatus maps an error to the status returned to external callers.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransientProvider, KindPermanentProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var userMessages = map[Kind]string{
	KindValidation:        "Die Anfrage ist ungültig.",
	KindAuth:              "Der Link ist ungültig oder abgelaufen.",
	KindNotFound:          "Der Eintrag wurde nicht gefunden.",
	KindConflict:          "Darüber wurde bereits entschieden.",
	KindTransientProvider: "Der Dienst ist vorübergehend nicht erreichbar. Bitte später erneut versuchen.",
	KindPermanentProvider: "Die Nachricht konnte nicht zugestellt werden.",
}

// UserMessage returns a short localized message for the error. Internal
// details never leak through it.
func UserMessage(err error) string {
	if msg, ok := userMessages[KindOf(err)]; ok {
		return msg
	}
	return "Ein unerwarteter Fehler ist aufgetreten."
}
