package types

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
//
// Every failure that crosses the gateway boundary or is detected locally by the
// orchestration layer is an *Error with one of the kinds below. Callers branch
// with errors.Is against the kind sentinels:
//
//	if errors.Is(err, types.ErrUnauthorized) { ... }

// ErrorKind classifies a failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindNetwork
	KindUnauthorized
	KindInvalidCredentials
	KindDuplicateAccount
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindDuplicateAccount:
		return "duplicate_account"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Kind sentinels for errors.Is.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrDuplicateAccount   = &Error{Kind: KindDuplicateAccount}
	ErrServer             = &Error{Kind: KindServer}
)

// Error is a classified failure.
type Error struct {
	Kind    ErrorKind
	Op      string // gateway or controller operation, e.g. "upload"
	Status  int    // HTTP status when one was received
	Message string // human readable, server-provided when available
	Err     error  // underlying cause
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels. A target carrying only a Kind matches any error of
// that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Status == 0 && t.Message == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// ValidationError is the client-side rejection used before any network call.
func ValidationError(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// KindOf returns the kind of err, KindUnknown for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// BannerText is the message shown in the transient error banner: the
// server-provided (or locally produced) message when present, otherwise the
// fallback.
func BannerText(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	return fallback
}
