package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

// resolveAttempts bounds the find-or-create loop when concurrent first
// contacts keep colliding on the address constraint.
const resolveAttempts = 3

// Resolver maps raw provider addresses onto contacts.
type Resolver struct {
	repo ports.ContactRepository
	log  *slog.Logger
}

func NewResolver(repo ports.ContactRepository, log *slog.Logger) *Resolver {
	return &Resolver{repo: repo, log: log}
}

// Resolve returns the contact owning raw, creating one on first contact.
// Two callers racing on the same new address end up with the same contact:
// the loser of the insert re-reads the winner's row.
func (r *Resolver) Resolve(ctx context.Context, raw string, ch domain.Channel) (domain.Contact, error) {
	addr, err := domain.NormalizeAddress(raw, ch)
	if err != nil {
		return domain.Contact{}, err
	}

	for attempt := 1; attempt <= resolveAttempts; attempt++ {
		c, err := r.repo.FindContactByAddress(ctx, addr)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrContactNotFound) {
			return domain.Contact{}, fmt.Errorf("find contact: %w", err)
		}

		c = newResolvedContact(addr)
		err = r.repo.CreateContact(ctx, &c)
		if err == nil {
			r.log.Info("contact created from first contact", "contact_id", c.ID, "channel", ch, "kind", addr.Kind)
			return c, nil
		}
		if !errors.Is(err, domain.ErrDuplicateAddress) {
			return domain.Contact{}, fmt.Errorf("create contact: %w", err)
		}
		r.log.Debug("lost first-contact race, re-reading", "attempt", attempt)
	}
	return domain.Contact{}, fmt.Errorf("resolve %s address after %d attempts: %w", addr.Kind, resolveAttempts, domain.ErrDuplicateAddress)
}

func newResolvedContact(addr domain.Address) domain.Contact {
	c := domain.NewContact("Unknown", "")
	value := addr.Value
	c.Address = &value
	switch addr.Kind {
	case domain.AddressPhone:
		c.Phone = &value
	case domain.AddressEmail:
		c.Email = &value
	default:
		c.Handle = &value
	}
	return c
}
