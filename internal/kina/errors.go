package kina

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failed call.
type Kind string

const (
	KindAuthMissing  Kind = "identity_unavailable"
	KindAuthRejected Kind = "auth_rejected"
	KindNotFound     Kind = "not_found"
	KindRateLimited  Kind = "rate_limited"
	KindApplication  Kind = "application_error"
	KindUnexpected   Kind = "unexpected_server_error"
	KindTransport    Kind = "transport"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrIdentityUnavailable = errors.New("kina: no host identity to authenticate with")
	ErrAuthRejected        = errors.New("kina: credentials rejected")
	ErrNotFound            = errors.New("kina: resource not found")
	ErrRateLimited         = errors.New("kina: rate limited")
	ErrApplication         = errors.New("kina: application error")
	ErrUnexpected          = errors.New("kina: unexpected server error")
	ErrTransport           = errors.New("kina: transport failure")
)

// Server error codes the client reacts to.
const (
	CodeVariantNotFound = "variant_not_found"
	CodeTitleNotFound   = "title_not_found"
	CodeAdCooldown      = "ad_cooldown"
	CodeRateLimited     = "rate_limited"
	CodeTooManyRequests = "too_many_requests"

	CodeInitDataRequired = "init_data_required"
	CodeInitDataInvalid  = "init_data_invalid"
	CodeInitDataExpired  = "init_data_expired"
	CodeClockSkew        = "clock_skew"
	CodeBadHashFormat    = "bad_hash_format"
	CodeTokenExpired     = "token_expired"
	CodeTokenInvalid     = "token_invalid"
	CodeTokenMissing     = "token_missing"
)

func sentinel(k Kind) error {
	switch k {
	case KindAuthMissing:
		return ErrIdentityUnavailable
	case KindAuthRejected:
		return ErrAuthRejected
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindApplication:
		return ErrApplication
	case KindTransport:
		return ErrTransport
	default:
		return ErrUnexpected
	}
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind       Kind
	Op         string // endpoint name, e.g. "watch_request"
	Status     int
	Code       string // server "error"/"detail" code
	RetryAfter time.Duration
	Payload    json.RawMessage // raw error body, when JSON
	Err        error           // lower-level cause (net.Error, decode error, ...)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("kina: %s: %s", e.Op, e.Kind)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{sentinel(e.Kind)}
	}
	return []error{sentinel(e.Kind), e.Err}
}

// KindOf returns the Kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the server error code carried by err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTokenRejection reports whether code says the bearer token itself is bad.
func IsTokenRejection(code string) bool {
	switch code {
	case CodeTokenExpired, CodeTokenInvalid, CodeTokenMissing:
		return true
	}
	return false
}

// IsInitDataRejection reports whether code says the host identity was refused.
func IsInitDataRejection(code string) bool {
	switch code {
	case CodeInitDataRequired, CodeInitDataInvalid, CodeInitDataExpired, CodeClockSkew, CodeBadHashFormat:
		return true
	}
	return false
}

var rejectionMessages = map[string]string{
	CodeInitDataRequired: "Open the app from Telegram to sign in.",
	CodeInitDataInvalid:  "Telegram sign-in data is invalid. Reopen the app.",
	CodeInitDataExpired:  "Telegram sign-in data has expired. Reopen the app.",
	CodeClockSkew:        "Your device clock is off. Fix the time and reopen the app.",
	CodeBadHashFormat:    "Telegram sign-in data is malformed. Reopen the app.",
	CodeTokenExpired:     "Your session has expired. Signing in again.",
	CodeTokenInvalid:     "Your session is no longer valid. Signing in again.",
	CodeTokenMissing:     "You are not signed in.",
}

// UserMessage renders err for display. Each failure kind and rejection reason
// gets its own text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	switch e.Kind {
	case KindAuthMissing:
		return "Telegram did not provide sign-in data. Reopen the app from the bot."
	case KindAuthRejected:
		if m, ok := rejectionMessages[e.Code]; ok {
			return m
		}
		return "Sign-in was rejected."
	case KindNotFound:
		if e.Code == CodeVariantNotFound {
			return "This audio and quality combination is not available."
		}
		return "Not found."
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Too many requests. Try again in %d s.", int(e.RetryAfter.Seconds()))
		}
		return "Too many requests. Try again shortly."
	case KindTransport:
		return "Network error: " + causeText(e)
	case KindApplication:
		return "Request failed: " + e.Code
	default:
		return "Server error: " + causeText(e)
	}
}

func causeText(e *Error) string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return string(e.Kind)
}
