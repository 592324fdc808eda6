package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"

	"github.com/google/uuid"
)

// MaxBodyLength is the longest body accepted by the messages API.
const MaxBodyLength = 5000

// MaxSubjectLength bounds the email subject stored with a message.
const MaxSubjectLength = 500

// dispatchLease is how long one dispatcher owns a PENDING message. It
// outlasts every retry of a send; a lease left by a crashed process
// expires and the message can be dispatched again.
const dispatchLease = 5 * time.Minute

// SenderSource hands out the sender for a channel. The registry
// implements it.
type SenderSource interface {
	Sender(channel domain.Channel) (ports.Sender, error)
}

// Dispatcher sends outbound messages and owns their move out of PENDING.
type Dispatcher struct {
	repo    ports.Repository
	senders SenderSource
	events  ports.EventPublisher
	retry   RetryPolicy
	sleep   func(ctx context.Context, d time.Duration) error
	lease   time.Duration
	log     *slog.Logger
}

// NewDispatcher wires the dispatcher with its dependencies. events may be nil.
func NewDispatcher(
	repo ports.Repository,
	senders SenderSource,
	events ports.EventPublisher,
	retry RetryPolicy,
	log *slog.Logger,
) *Dispatcher {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Dispatcher{
		repo:    repo,
		senders: senders,
		events:  events,
		retry:   retry,
		sleep:   sleepCtx,
		lease:   dispatchLease,
		log:     log,
	}
}

// OutboundRequest is the input for creating a pending outbound message.
type OutboundRequest struct {
	ContactID    uuid.UUID
	SenderUserID *uuid.UUID
	Channel      string
	Subject      string // email only
	Body         string
	MediaURLs    []string
}

// CreateOutbound stores a PENDING message for later dispatch.
func (d *Dispatcher) CreateOutbound(ctx context.Context, req OutboundRequest) (domain.Message, error) {
	ch, err := domain.ParseChannel(req.Channel)
	if err != nil {
		return domain.Message{}, err
	}
	if err := validateBody(req.Body); err != nil {
		return domain.Message{}, err
	}
	if err := validateSubject(req.Subject); err != nil {
		return domain.Message{}, err
	}
	if _, err := d.repo.GetContact(ctx, req.ContactID); err != nil {
		return domain.Message{}, err
	}

	msg := domain.NewOutboundMessage(req.ContactID, req.SenderUserID, ch, req.Body, req.MediaURLs)
	msg.Subject = strings.TrimSpace(req.Subject)
	if err := d.repo.CreateMessage(ctx, &msg); err != nil {
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}

	d.log.Info("outbound message created", "msg_id", msg.ID, "contact_id", msg.ContactID, "channel", msg.Channel)
	return msg, nil
}

func validateBody(body string) error {
	n := utf8.RuneCountInString(body)
	if strings.TrimSpace(body) == "" {
		return &domain.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if n > MaxBodyLength {
		return &domain.ValidationError{Field: "body", Reason: fmt.Sprintf("%d characters exceeds %d", n, MaxBodyLength)}
	}
	return nil
}

func validateSubject(subject string) error {
	if n := utf8.RuneCountInString(subject); n > MaxSubjectLength {
		return &domain.ValidationError{Field: "subject", Reason: fmt.Sprintf("%d characters exceeds %d", n, MaxSubjectLength)}
	}
	return nil
}

// SendMessage dispatches one PENDING outbound message on channel and
// records the outcome. The returned message reflects what was persisted.
//
// Once it starts, a dispatch runs to completion even if ctx is cancelled:
// a provider may already have accepted the message.
func (d *Dispatcher) SendMessage(ctx context.Context, messageID uuid.UUID, channel domain.Channel, contactID uuid.UUID) (domain.Message, error) {
	ctx = context.WithoutCancel(ctx)

	msg, err := d.repo.GetMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if msg.Direction != domain.DirectionOutbound {
		return msg, fmt.Errorf("%w: message %s is inbound", domain.ErrInvalidStatus, msg.ID)
	}
	if msg.Status != domain.StatusPending {
		return msg, fmt.Errorf("%w: message %s is %s, not %s", domain.ErrInvalidStatus, msg.ID, msg.Status, domain.StatusPending)
	}
	if msg.ContactID != contactID {
		return msg, fmt.Errorf("%w: message %s, contact %s", domain.ErrContactMismatch, msg.ID, contactID)
	}

	ch, err := domain.ParseChannel(string(channel))
	if err != nil {
		return msg, err
	}
	if ch != msg.Channel {
		return msg, &domain.ValidationError{
			Field:  "channel",
			Reason: fmt.Sprintf("message was created for %s, not %s", msg.Channel, ch),
		}
	}

	contact, err := d.repo.GetContact(ctx, contactID)
	if err != nil {
		return msg, err
	}

	to := contact.Destination(ch)
	if to == "" {
		msg, err = d.record(ctx, msg, ports.Failed(ports.FailureValidation,
			fmt.Sprintf("contact has no %s destination", strings.ToLower(string(ch)))))
		return msg, err
	}

	sender, err := d.senders.Sender(ch)
	if err != nil {
		var cfgErr *domain.ConfigurationError
		if !errors.As(err, &cfgErr) {
			return msg, fmt.Errorf("select sender: %w", err)
		}
		d.log.Error("no transport configured", "msg_id", msg.ID, "channel", ch, "err", err)
		updated, recErr := d.record(ctx, msg, ports.Failed(ports.FailureConfiguration, "no transport configured: "+cfgErr.Reason))
		if recErr != nil {
			return updated, recErr
		}
		return updated, err
	}

	// Only the dispatcher holding the lease calls the provider; a concurrent
	// dispatch of the same message stops here.
	now := time.Now().UTC()
	if err := d.repo.ClaimMessage(ctx, msg.ID, now, now.Add(d.lease)); err != nil {
		return msg, err
	}

	res := d.attempt(ctx, sender, msg.ID, ports.SendPayload{
		To:        to,
		Body:      msg.Body,
		MediaURLs: msg.MediaURLs,
		Subject:   msg.Subject,
	})
	return d.record(ctx, msg, res)
}

// attempt calls the sender, retrying transient failures with backoff.
// The message stays PENDING in the store meanwhile.
func (d *Dispatcher) attempt(ctx context.Context, sender ports.Sender, msgID uuid.UUID, p ports.SendPayload) ports.SendResult {
	var res ports.SendResult
	for n := 1; ; n++ {
		res = sender.Send(ctx, p)
		if res.Success || !res.Class.Retryable() || n >= d.retry.MaxAttempts {
			return res
		}

		wait := d.retry.Backoff(n)
		d.log.Warn("transient send failure, will retry",
			"msg_id", msgID, "attempt", n, "backoff", wait, "err", res.Error)
		if err := d.sleep(ctx, wait); err != nil {
			return res
		}
	}
}

// record moves msg out of PENDING according to res and persists it.
func (d *Dispatcher) record(ctx context.Context, msg domain.Message, res ports.SendResult) (domain.Message, error) {
	from := msg.Status
	now := time.Now().UTC()

	var err error
	if res.Success {
		err = msg.MarkSent(res.ExternalID, now)
	} else {
		reason := res.Error
		if reason == "" {
			reason = "provider reported failure without a reason"
		}
		err = msg.MarkFailed(reason)
	}
	if err != nil {
		return msg, err
	}

	if err := d.repo.TransitionMessage(ctx, msg, from); err != nil {
		return msg, fmt.Errorf("persist send outcome: %w", err)
	}

	if err := d.repo.TouchContact(ctx, msg.ContactID, now); err != nil {
		d.log.Warn("touch contact failed", "contact_id", msg.ContactID, "err", err)
	}

	if res.Success {
		d.log.Info("message sent", "msg_id", msg.ID, "channel", msg.Channel, "external_id", res.ExternalID)
	} else {
		d.log.Warn("message failed", "msg_id", msg.ID, "channel", msg.Channel, "class", res.Class, "reason", res.Error)
	}

	emit(ctx, d.events, d.log, ports.EventMessageStatus, msg.ID.String(), statusChanged(msg))
	return msg, nil
}

// Resend copies a finished outbound message into a new PENDING message and
// dispatches it. The original is left untouched.
func (d *Dispatcher) Resend(ctx context.Context, messageID uuid.UUID) (domain.Message, error) {
	orig, err := d.repo.GetMessage(ctx, messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if orig.Direction != domain.DirectionOutbound || !orig.Status.Terminal() {
		return domain.Message{}, fmt.Errorf("%w: only finished outbound messages can be resent, %s is %s %s",
			domain.ErrInvalidStatus, orig.ID, orig.Direction, orig.Status)
	}

	clone := domain.NewOutboundMessage(orig.ContactID, orig.SenderUserID, orig.Channel, orig.Body, append([]string{}, orig.MediaURLs...))
	clone.Subject = orig.Subject
	if err := d.repo.CreateMessage(ctx, &clone); err != nil {
		return domain.Message{}, fmt.Errorf("save resend: %w", err)
	}
	d.log.Info("message resend", "msg_id", clone.ID, "original_id", orig.ID)

	return d.SendMessage(ctx, clone.ID, clone.Channel, clone.ContactID)
}
