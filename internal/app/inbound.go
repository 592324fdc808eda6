package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

// InboundService applies normalized webhook events to the store.
type InboundService struct {
	repo     ports.Repository
	resolver *Resolver
	events   ports.EventPublisher
	log      *slog.Logger
}

func NewInboundService(repo ports.Repository, resolver *Resolver, events ports.EventPublisher, log *slog.Logger) *InboundService {
	return &InboundService{repo: repo, resolver: resolver, events: events, log: log}
}

// HandleEvents applies every event in order. Only failures the provider
// should retry are returned; redeliveries, unknown references and illegal
// transitions are logged and swallowed.
func (s *InboundService) HandleEvents(ctx context.Context, events []ports.InboundEvent) error {
	for _, ev := range events {
		var err error
		switch ev.Kind {
		case ports.EventKindMessage:
			_, err = s.HandleMessage(ctx, ev)
		case ports.EventKindStatus:
			_, err = s.HandleStatus(ctx, ev)
		default:
			err = fmt.Errorf("unknown event kind %q", ev.Kind)
		}
		if err == nil {
			continue
		}

		var vErr *domain.ValidationError
		switch {
		case errors.Is(err, domain.ErrDuplicateWebhook):
			s.log.Info("duplicate webhook ignored", "provider", ev.Provider, "external_id", ev.ExternalID)
		case errors.Is(err, domain.ErrUnknownCallback),
			errors.Is(err, domain.ErrInvalidStatus),
			errors.As(err, &vErr):
			s.log.Warn("webhook event dropped", "provider", ev.Provider, "external_id", ev.ExternalID, "err", err)
		default:
			return fmt.Errorf("apply %s event %s: %w", ev.Kind, ev.ExternalID, err)
		}
	}
	return nil
}

// HandleMessage records one inbound message, resolving its sender.
// A redelivered event returns the stored message wrapped with
// domain.ErrDuplicateWebhook.
func (s *InboundService) HandleMessage(ctx context.Context, ev ports.InboundEvent) (domain.Message, error) {
	if ev.ExternalID != "" {
		existing, err := s.repo.FindByExternalID(ctx, ev.ExternalID, domain.DirectionInbound)
		if err == nil {
			return existing, fmt.Errorf("%w: %s", domain.ErrDuplicateWebhook, ev.ExternalID)
		}
		if !errors.Is(err, domain.ErrMessageNotFound) {
			return domain.Message{}, fmt.Errorf("lookup inbound message: %w", err)
		}
	}

	ch := ev.Channel
	if ch == "" {
		ch = domain.InferChannel(ev.From)
	}
	contact, err := s.resolver.Resolve(ctx, ev.From, ch)
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.NewInboundMessage(contact.ID, ch, ev.Body, ev.MediaURLs, ev.ExternalID)
	created, err := s.repo.CreateInboundMessage(ctx, &msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("save inbound message: %w", err)
	}
	if !created {
		return msg, fmt.Errorf("%w: %s", domain.ErrDuplicateWebhook, ev.ExternalID)
	}

	if err := s.repo.TouchContact(ctx, contact.ID, msg.CreatedAt); err != nil {
		s.log.Warn("touch contact failed", "contact_id", contact.ID, "err", err)
	}

	s.log.Info("inbound message stored",
		"msg_id", msg.ID, "contact_id", contact.ID, "channel", ch, "provider", ev.Provider, "external_id", ev.ExternalID)

	emit(ctx, s.events, s.log, ports.EventMessageInbound, msg.ID.String(), MessageReceived{
		MessageID:  msg.ID,
		ContactID:  contact.ID,
		Channel:    ch,
		ExternalID: ev.ExternalID,
		Provider:   ev.Provider,
	})
	return msg, nil
}

// HandleStatus applies a delivery callback to the outbound message it
// references. A repeated status is a no-op.
func (s *InboundService) HandleStatus(ctx context.Context, ev ports.InboundEvent) (domain.Message, error) {
	if ev.Status == "" {
		s.log.Debug("provider status carries no lifecycle change",
			"provider", ev.Provider, "external_id", ev.ExternalID, "status", ev.ProviderStatus)
		return domain.Message{}, nil
	}

	msg, err := s.repo.FindByExternalID(ctx, ev.ExternalID, domain.DirectionOutbound)
	if errors.Is(err, domain.ErrMessageNotFound) {
		return domain.Message{}, fmt.Errorf("%w: %s %s", domain.ErrUnknownCallback, ev.Provider, ev.ExternalID)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("lookup outbound message: %w", err)
	}

	if msg.Status == ev.Status {
		return msg, nil
	}

	from := msg.Status
	if ev.Status == domain.StatusFailed {
		err = msg.MarkFailed(failureReason(ev))
	} else {
		err = msg.Transition(ev.Status, time.Now().UTC())
	}
	if err != nil {
		return msg, err
	}

	if err := s.repo.TransitionMessage(ctx, msg, from); err != nil {
		return msg, fmt.Errorf("persist status: %w", err)
	}

	s.log.Info("message status updated",
		"msg_id", msg.ID, "external_id", ev.ExternalID, "from", from, "to", msg.Status)

	emit(ctx, s.events, s.log, ports.EventMessageStatus, msg.ID.String(), statusChanged(msg))
	return msg, nil
}

func failureReason(ev ports.InboundEvent) string {
	switch {
	case ev.ErrorMessage != "" && ev.ErrorCode != "":
		return fmt.Sprintf("%s (code %s)", ev.ErrorMessage, ev.ErrorCode)
	case ev.ErrorMessage != "":
		return ev.ErrorMessage
	case ev.ErrorCode != "":
		return "provider error " + ev.ErrorCode
	}
	return "provider reported " + ev.ProviderStatus
}
