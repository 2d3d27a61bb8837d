// Package apperr classifies failures so callers can tell degraded-mode
// conditions (serve stale data) from conditions that must reach the user.
package apperr

import (
	"errors"
	"fmt"

	"github.com/nhle/mailboard/internal/model"
)

// Kind is the class of a failure.
type Kind int

const (
	// Unknown is any error that carries no Kind.
	Unknown Kind = iota
	// NotAuthorized means no credential is on file for the account.
	NotAuthorized
	// ReauthorizationRequired means the refresh token is missing or was
	// rejected; the user must redo the OAuth flow.
	ReauthorizationRequired
	// RefreshFailed is a transient token refresh failure.
	RefreshFailed
	// ProviderUnavailable is a failed remote call.
	ProviderUnavailable
	// Decryption means stored configuration cannot be opened with the
	// current application secret.
	Decryption
	// UnknownProvider is a configuration or programming error.
	UnknownProvider
	// InvalidOAuthState is an expired or replayed authorization callback.
	InvalidOAuthState
	// NotFound is a missing account or item.
	NotFound
	// Invalid is rejected caller input.
	Invalid
	// Unsupported is an action the provider does not offer.
	Unsupported
)

var kindNames = map[Kind]string{
	Unknown:                 "unknown",
	NotAuthorized:           "not_authorized",
	ReauthorizationRequired: "reauthorization_required",
	RefreshFailed:           "refresh_failed",
	ProviderUnavailable:     "provider_unavailable",
	Decryption:              "decryption_error",
	UnknownProvider:         "unknown_provider",
	InvalidOAuthState:       "invalid_oauth_state",
	NotFound:                "not_found",
	Invalid:                 "invalid",
	Unsupported:             "unsupported",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure.
type Error struct {
	Kind     Kind
	Provider model.ProviderKind
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Provider, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of kind k with a formatted message.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind k.
func Wrap(k Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithProvider returns a copy of e tagged with provider p.
func (e *Error) WithProvider(p model.ProviderKind) *Error {
	c := *e
	c.Provider = p
	return &c
}

// KindOf returns the Kind of the first Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err's chain carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsAuth reports whether err requires the user to (re)authorize. Such
// errors are never masked by stale-cache fallback.
func IsAuth(err error) bool {
	k := KindOf(err)
	return k == NotAuthorized || k == ReauthorizationRequired
}

// FallbackEligible reports whether cached data may be served in place of
// the result of the failed operation.
func FallbackEligible(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case NotAuthorized, ReauthorizationRequired, Decryption, UnknownProvider,
		InvalidOAuthState, NotFound, Invalid, Unsupported:
		return false
	default:
		return true
	}
}
