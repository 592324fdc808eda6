package ports

import (
	"context"

	"channel-gateway/internal/domain"
)

// SendPayload is everything an adapter needs to deliver one message.
// Adapters never see Message or Contact entities.
type SendPayload struct {
	To        string
	Body      string
	MediaURLs []string
	Subject   string // email only
}

// FailureClass says how a failed send should be handled by the caller.
type FailureClass string

const (
	FailureNone           FailureClass = ""
	FailureValidation     FailureClass = "validation"      // payload violates channel rules, nothing was sent
	FailureConfiguration  FailureClass = "configuration"   // credentials rejected or missing
	FailureTransient      FailureClass = "transient"       // timeout, rate limit, 5xx; retry is safe
	FailurePermanent      FailureClass = "permanent"       // provider refused the request
	FailureNotImplemented FailureClass = "not_implemented" // placeholder adapter
)

// Retryable reports whether a send that failed with c may be attempted again.
func (c FailureClass) Retryable() bool { return c == FailureTransient }

// SendResult is the response of an adapter after one send attempt.
type SendResult struct {
	Success    bool
	ExternalID string // provider-assigned id
	Error      string
	Class      FailureClass
}

// Failed builds an unsuccessful SendResult.
func Failed(class FailureClass, reason string) SendResult {
	return SendResult{Success: false, Error: reason, Class: class}
}

// Sender abstracts one provider transport for one channel.
//
// Send never returns an error: every transport problem is translated into a
// failed SendResult carrying a human-readable reason.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, p SendPayload) SendResult
}

// Validator is implemented by senders with channel-specific payload rules.
// Send calls it before any network activity.
type Validator interface {
	Validate(p SendPayload) error
}
