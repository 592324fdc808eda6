// Package memory is an in-process Repository for development and tests.
// It enforces the same uniqueness rules as the postgres schema.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"

	"github.com/google/uuid"
)

type externalKey struct {
	id  string
	dir domain.Direction
}

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	seq       int64
	messages  map[uuid.UUID]domain.Message
	byExt     map[externalKey]uuid.UUID
	contacts  map[uuid.UUID]domain.Contact
	order     []uuid.UUID // contacts in insertion order
	addresses map[string]uuid.UUID
	notes     map[uuid.UUID]domain.Note
	scheduled map[uuid.UUID]domain.ScheduledMessage
}

var _ ports.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		messages:  make(map[uuid.UUID]domain.Message),
		byExt:     make(map[externalKey]uuid.UUID),
		contacts:  make(map[uuid.UUID]domain.Contact),
		addresses: make(map[string]uuid.UUID),
		notes:     make(map[uuid.UUID]domain.Note),
		scheduled: make(map[uuid.UUID]domain.ScheduledMessage),
	}
}

func (s *Store) CreateMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMessage(m)
}

func (s *Store) insertMessage(m *domain.Message) error {
	if _, ok := s.contacts[m.ContactID]; !ok {
		return fmt.Errorf("insert message %s: %w", m.ID, domain.ErrContactNotFound)
	}
	if m.ExternalID != nil {
		k := externalKey{*m.ExternalID, m.Direction}
		if _, dup := s.byExt[k]; dup {
			return fmt.Errorf("insert message: external id %q already stored for %s", k.id, k.dir)
		}
		s.byExt[k] = m.ID
	}
	s.seq++
	m.Seq = s.seq
	s.messages[m.ID] = cloneMessage(*m)
	return nil
}

func (s *Store) CreateInboundMessage(_ context.Context, m *domain.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ExternalID != nil {
		if id, ok := s.byExt[externalKey{*m.ExternalID, domain.DirectionInbound}]; ok {
			*m = cloneMessage(s.messages[id])
			return false, nil
		}
	}
	if err := s.insertMessage(m); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) FindByExternalID(_ context.Context, externalID string, dir domain.Direction) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExt[externalKey{externalID, dir}]
	if !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	return cloneMessage(s.messages[id]), nil
}

func (s *Store) ClaimMessage(_ context.Context, id uuid.UUID, now, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	if cur.Status != domain.StatusPending {
		return fmt.Errorf("%w: message %s is %s, expected %s", domain.ErrInvalidStatus, id, cur.Status, domain.StatusPending)
	}
	if cur.DispatchLeaseUntil != nil && cur.DispatchLeaseUntil.After(now) {
		return fmt.Errorf("%w: message %s is already being dispatched", domain.ErrInvalidStatus, id)
	}
	cur.DispatchLeaseUntil = &until
	s.messages[id] = cur
	return nil
}

func (s *Store) TransitionMessage(_ context.Context, m domain.Message, from domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[m.ID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("%w: message %s is %s, expected %s", domain.ErrInvalidStatus, m.ID, cur.Status, from)
	}

	if m.ExternalID != nil && cur.ExternalRef() != *m.ExternalID {
		k := externalKey{*m.ExternalID, m.Direction}
		if _, dup := s.byExt[k]; dup {
			return fmt.Errorf("transition message: external id %q already stored", k.id)
		}
		s.byExt[k] = m.ID
	}
	m.Seq = cur.Seq
	m.DispatchLeaseUntil = nil
	s.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *Store) ListMessagesByContact(_ context.Context, contactID uuid.UUID) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ContactID == contactID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) CreateContact(_ context.Context, c *domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Address != nil {
		if _, taken := s.addresses[*c.Address]; taken {
			return domain.ErrDuplicateAddress
		}
		s.addresses[*c.Address] = c.ID
	}
	s.contacts[c.ID] = *c
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) GetContact(_ context.Context, id uuid.UUID) (domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return domain.Contact{}, domain.ErrContactNotFound
	}
	return c, nil
}

func (s *Store) FindContactByAddress(_ context.Context, addr domain.Address) (domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.addresses[addr.Value]; ok {
		return s.contacts[id], nil
	}
	var found *domain.Contact
	for _, id := range s.order {
		c := s.contacts[id]
		if !matchesAddress(c, addr) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = &c
		}
	}
	if found == nil {
		return domain.Contact{}, domain.ErrContactNotFound
	}
	return *found, nil
}

func matchesAddress(c domain.Contact, addr domain.Address) bool {
	switch addr.Kind {
	case domain.AddressPhone:
		return c.Phone != nil && *c.Phone == addr.Value
	case domain.AddressEmail:
		return c.Email != nil && strings.EqualFold(*c.Email, addr.Value)
	case domain.AddressHandle:
		return c.Handle != nil && strings.EqualFold(*c.Handle, addr.Value)
	}
	return false
}

func (s *Store) ListContacts(_ context.Context) ([]domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Contact, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.contacts[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TouchContact(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return domain.ErrContactNotFound
	}
	c.LastContactedAt = &at
	s.contacts[id] = c
	return nil
}

func (s *Store) CountActivity(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]ports.ActivityCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]ports.ActivityCount, len(ids))
	for _, id := range ids {
		out[id] = ports.ActivityCount{}
	}
	for _, m := range s.messages {
		if c, ok := out[m.ContactID]; ok {
			c.Messages++
			out[m.ContactID] = c
		}
	}
	for _, n := range s.notes {
		if c, ok := out[n.ContactID]; ok {
			c.Notes++
			out[n.ContactID] = c
		}
	}
	return out, nil
}

func (s *Store) CreateNote(_ context.Context, n *domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[n.ContactID]; !ok {
		return domain.ErrContactNotFound
	}
	s.notes[n.ID] = *n
	return nil
}

func (s *Store) ListNotes(_ context.Context, contactID uuid.UUID) ([]domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Note
	for _, n := range s.notes {
		if n.ContactID == contactID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateScheduledMessage(_ context.Context, sm *domain.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[sm.ContactID]; !ok {
		return domain.ErrContactNotFound
	}
	s.scheduled[sm.ID] = *sm
	return nil
}

func (s *Store) ListScheduledMessages(_ context.Context, contactID uuid.UUID) ([]domain.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledMessage
	for _, sm := range s.scheduled {
		if sm.ContactID == contactID {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (s *Store) ListDueScheduledMessages(_ context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledMessage
	for _, sm := range s.scheduled {
		if sm.Status == domain.ScheduledPending && !sm.ScheduledFor.After(now) {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateScheduledStatus(_ context.Context, id uuid.UUID, from, to domain.ScheduledStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.scheduled[id]
	if !ok {
		return fmt.Errorf("scheduled message %s: %w", id, domain.ErrMessageNotFound)
	}
	if sm.Status != from {
		return fmt.Errorf("%w: scheduled message %s is %s, expected %s", domain.ErrInvalidStatus, id, sm.Status, from)
	}
	sm.Status = to
	s.scheduled[id] = sm
	return nil
}

// MergeContact runs under the store lock, so the reassign-and-delete is
// all or nothing.
func (s *Store) MergeContact(_ context.Context, primaryID, duplicateID uuid.UUID) (ports.MergeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contacts[primaryID]; !ok {
		return ports.MergeCounts{}, fmt.Errorf("primary %s: %w", primaryID, domain.ErrContactNotFound)
	}
	dup, ok := s.contacts[duplicateID]
	if !ok {
		return ports.MergeCounts{}, fmt.Errorf("duplicate %s: %w", duplicateID, domain.ErrContactNotFound)
	}

	var counts ports.MergeCounts
	for id, m := range s.messages {
		if m.ContactID == duplicateID {
			m.ContactID = primaryID
			s.messages[id] = m
			counts.Messages++
		}
	}
	for id, n := range s.notes {
		if n.ContactID == duplicateID {
			n.ContactID = primaryID
			s.notes[id] = n
			counts.Notes++
		}
	}
	for id, sm := range s.scheduled {
		if sm.ContactID == duplicateID {
			sm.ContactID = primaryID
			s.scheduled[id] = sm
			counts.ScheduledMessages++
		}
	}

	if dup.Address != nil {
		delete(s.addresses, *dup.Address)
	}
	delete(s.contacts, duplicateID)
	for i, id := range s.order {
		if id == duplicateID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return counts, nil
}

func cloneMessage(m domain.Message) domain.Message {
	m.MediaURLs = append([]string{}, m.MediaURLs...)
	return m
}
