package types

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth marks an invalid or expired broker session. It is never retried.
	ErrAuth = errors.New("broker session is not authenticated")
	// ErrNotImplemented is returned for operations a venue does not support.
	ErrNotImplemented = errors.New("not implemented")
)

// BrokerError carries the venue's human readable reason for a failed call.
type BrokerError struct {
	Venue   string
	Op      string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Venue, e.Op, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Venue, e.Op, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Venue, e.Op, e.Message, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

func NewBrokerError(venue, op, message string, err error) *BrokerError {
	return &BrokerError{Venue: venue, Op: op, Message: message, Err: err}
}

// NewAuthError wraps ErrAuth so callers can match it with errors.Is.
func NewAuthError(venue, op, message string) *BrokerError {
	return &BrokerError{Venue: venue, Op: op, Message: message, Err: ErrAuth}
}

func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// UserMessage extracts the text shown to API callers and notifications.
func UserMessage(err error) string {
	var be *BrokerError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
