package relay

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Predefined errors
var (
	// ErrInvalidCredential indicates the relay rejected the bot credential
	ErrInvalidCredential = errors.New("relay: invalid credential")

	// ErrRateLimited indicates the relay throttled the credential
	ErrRateLimited = errors.New("relay: rate limited")

	// ErrBlobNotFound indicates the blob reference no longer resolves
	ErrBlobNotFound = errors.New("relay: blob not found")

	// ErrUnavailable indicates the relay could not be reached or answered abnormally
	ErrUnavailable = errors.New("relay: transport unavailable")
)

// Error represents a relay error with call context
type Error struct {
	Op      string // Operation that failed
	Err     error  // Classified error
	Message string // Description from the relay payload, if any
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay: %s failed: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("relay: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the classified error
func (e *Error) Unwrap() error {
	return e.Err
}

// wrapError builds an *Error for an operation
func wrapError(op string, err error, message string) *Error {
	return &Error{Op: op, Err: err, Message: message}
}

// classifyPayload translates a relay error payload into one of the
// predefined errors. The relay answers failures with
// {"ok":false,"error_code":<http-like code>,"description":"..."}.
func classifyPayload(op string, status int, body []byte) *Error {
	code := status
	description := ""

	if gjson.ValidBytes(body) {
		payload := gjson.ParseBytes(body)
		if c := payload.Get("error_code"); c.Exists() {
			code = int(c.Int())
		}
		description = payload.Get("description").String()
	}

	var err error
	switch {
	case code == 401 || code == 403:
		err = ErrInvalidCredential
	case code == 429:
		err = ErrRateLimited
	case code == 404 || code == 400:
		// The relay reports both expired and unknown blob references as
		// client errors on fetch/resolve.
		err = ErrBlobNotFound
	default:
		err = ErrUnavailable
	}

	return wrapError(op, err, description)
}

// IsBlobNotFound checks whether err classifies as a missing blob reference
func IsBlobNotFound(err error) bool {
	return errors.Is(err, ErrBlobNotFound)
}

// IsRateLimited checks whether err classifies as relay throttling
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsInvalidCredential checks whether err classifies as a rejected credential
func IsInvalidCredential(err error) bool {
	return errors.Is(err, ErrInvalidCredential)
}
