package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrMessageNotFound    = errors.New("message not found")
	ErrContactNotFound    = errors.New("contact not found")
	ErrInvalidStatus      = errors.New("invalid status transition")
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrDuplicateAddress   = errors.New("contact address already exists")
	ErrContactMismatch    = errors.New("message does not belong to contact")

	// ErrDuplicateWebhook marks a redelivered inbound event. Callers log it
	// and acknowledge the provider; it never reaches an API client.
	ErrDuplicateWebhook = errors.New("duplicate webhook event")

	// ErrUnknownCallback marks a status callback whose external id matches
	// no stored message. Logged and dropped.
	ErrUnknownCallback = errors.New("unknown callback reference")
)

// ConfigurationError reports missing or invalid provider credentials.
// It is raised when an adapter is constructed, never per message.
type ConfigurationError struct {
	Channel Channel
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Channel == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration (%s): %s", e.Channel, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError reports input that violates a channel or API constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}
