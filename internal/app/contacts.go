package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/identity"
	"channel-gateway/internal/ports"

	"github.com/google/uuid"
)

// ContactService covers the contact book: manual creation, notes,
// scheduled messages, history, duplicate detection and merging.
type ContactService struct {
	repo   ports.Repository
	events ports.EventPublisher
	now    func() time.Time
	log    *slog.Logger
}

func NewContactService(repo ports.Repository, events ports.EventPublisher, log *slog.Logger) *ContactService {
	return &ContactService{repo: repo, events: events, now: time.Now, log: log}
}

// NewContactRequest is a contact entered by hand.
type NewContactRequest struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Handle    string
	Tags      []string
}

// CreateContact stores a hand-entered contact. Such contacts carry no
// resolver address, so they may duplicate resolved ones until merged.
func (s *ContactService) CreateContact(ctx context.Context, req NewContactRequest) (domain.Contact, error) {
	if strings.TrimSpace(req.FirstName) == "" && req.Email == "" && req.Phone == "" && req.Handle == "" {
		return domain.Contact{}, &domain.ValidationError{Reason: "a name or at least one address is required"}
	}

	c := domain.NewContact(strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName))
	if req.Email != "" {
		addr, err := domain.NormalizeAddress(req.Email, domain.ChannelEmail)
		if err != nil {
			return domain.Contact{}, err
		}
		c.Email = &addr.Value
	}
	if req.Phone != "" {
		addr, err := domain.NormalizeAddress(req.Phone, domain.ChannelSMS)
		if err != nil {
			return domain.Contact{}, err
		}
		if addr.Kind != domain.AddressPhone {
			return domain.Contact{}, &domain.ValidationError{Field: "phone", Reason: "not a phone number"}
		}
		c.Phone = &addr.Value
	}
	if h := strings.TrimPrefix(strings.TrimSpace(req.Handle), "@"); h != "" {
		c.Handle = &h
	}
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			c.AddTag(t)
		}
	}

	if err := s.repo.CreateContact(ctx, &c); err != nil {
		return domain.Contact{}, fmt.Errorf("save contact: %w", err)
	}
	return c, nil
}

// AddNote attaches a note to a contact.
func (s *ContactService) AddNote(ctx context.Context, contactID uuid.UUID, userID *uuid.UUID, content string, private bool) (domain.Note, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Note{}, &domain.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	n := domain.Note{
		ID:        uuid.New(),
		ContactID: contactID,
		UserID:    userID,
		Content:   content,
		IsPrivate: private,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateNote(ctx, &n); err != nil {
		return domain.Note{}, fmt.Errorf("save note: %w", err)
	}
	return n, nil
}

// ScheduleRequest asks for a message to be sent later by the schedule publisher.
type ScheduleRequest struct {
	ContactID    uuid.UUID
	Channel      string
	Body         string
	Subject      string
	MediaURLs    []string
	ScheduledFor time.Time
}

func (s *ContactService) ScheduleMessage(ctx context.Context, req ScheduleRequest) (domain.ScheduledMessage, error) {
	ch, err := domain.ParseChannel(req.Channel)
	if err != nil {
		return domain.ScheduledMessage{}, err
	}
	if err := validateBody(req.Body); err != nil {
		return domain.ScheduledMessage{}, err
	}
	if err := validateSubject(req.Subject); err != nil {
		return domain.ScheduledMessage{}, err
	}
	now := s.now().UTC()
	if !req.ScheduledFor.After(now) {
		return domain.ScheduledMessage{}, &domain.ValidationError{Field: "scheduled_for", Reason: "must be in the future"}
	}

	sm := domain.ScheduledMessage{
		ID:           uuid.New(),
		ContactID:    req.ContactID,
		Channel:      ch,
		Body:         req.Body,
		Subject:      req.Subject,
		MediaURLs:    append([]string{}, req.MediaURLs...),
		ScheduledFor: req.ScheduledFor.UTC(),
		Status:       domain.ScheduledPending,
		CreatedAt:    now,
	}
	if err := s.repo.CreateScheduledMessage(ctx, &sm); err != nil {
		return domain.ScheduledMessage{}, fmt.Errorf("save scheduled message: %w", err)
	}
	return sm, nil
}

// History returns a contact's messages oldest first.
func (s *ContactService) History(ctx context.Context, contactID uuid.UUID) ([]domain.Message, error) {
	if _, err := s.repo.GetContact(ctx, contactID); err != nil {
		return nil, err
	}
	return s.repo.ListMessagesByContact(ctx, contactID)
}

// DuplicateContact is one member of a duplicate group.
type DuplicateContact struct {
	Contact  domain.Contact      `json:"contact"`
	Reason   identity.Reason     `json:"reason,omitempty"`
	Activity ports.ActivityCount `json:"activity"`
}

// DuplicateGroup is a set of contacts that look like one person. The
// first entry is the oldest and the suggested merge primary.
type DuplicateGroup struct {
	Contacts []DuplicateContact `json:"contacts"`
}

// FindDuplicates scans every contact for likely duplicates.
func (s *ContactService) FindDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	contacts, err := s.repo.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	clusters := identity.Cluster(contacts)
	if len(clusters) == 0 {
		return []DuplicateGroup{}, nil
	}

	var ids []uuid.UUID
	for _, g := range clusters {
		for _, m := range g {
			ids = append(ids, m.Contact.ID)
		}
	}
	activity, err := s.repo.CountActivity(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count activity: %w", err)
	}

	groups := make([]DuplicateGroup, 0, len(clusters))
	for _, g := range clusters {
		dg := DuplicateGroup{Contacts: make([]DuplicateContact, 0, len(g))}
		for _, m := range g {
			dg.Contacts = append(dg.Contacts, DuplicateContact{
				Contact:  m.Contact,
				Reason:   m.Reason,
				Activity: activity[m.Contact.ID],
			})
		}
		groups = append(groups, dg)
	}

	s.log.Info("duplicate scan finished", "contacts", len(contacts), "groups", len(groups))
	return groups, nil
}

// MergeReport describes the outcome of a merge request. When a duplicate
// fails, FailedID names it; every duplicate listed in Merged was fully
// merged before it and stays merged.
type MergeReport struct {
	PrimaryID uuid.UUID         `json:"primary_id"`
	Merged    []uuid.UUID       `json:"merged"`
	Moved     ports.MergeCounts `json:"moved"`
	FailedID  *uuid.UUID        `json:"failed_id,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Merge folds each duplicate into primaryID, one transaction per duplicate,
// stopping at the first failure.
func (s *ContactService) Merge(ctx context.Context, primaryID uuid.UUID, duplicateIDs []uuid.UUID) (MergeReport, error) {
	report := MergeReport{PrimaryID: primaryID, Merged: []uuid.UUID{}}

	if len(duplicateIDs) == 0 {
		return report, &domain.ValidationError{Field: "duplicate_ids", Reason: "must not be empty"}
	}
	seen := make(map[uuid.UUID]bool, len(duplicateIDs))
	for _, id := range duplicateIDs {
		if id == primaryID {
			return report, &domain.ValidationError{Field: "duplicate_ids", Reason: "must not contain the primary contact"}
		}
		if seen[id] {
			return report, &domain.ValidationError{Field: "duplicate_ids", Reason: "contains " + id.String() + " twice"}
		}
		seen[id] = true
	}
	if _, err := s.repo.GetContact(ctx, primaryID); err != nil {
		return report, fmt.Errorf("primary %s: %w", primaryID, err)
	}

	for _, dupID := range duplicateIDs {
		counts, err := s.repo.MergeContact(ctx, primaryID, dupID)
		if err != nil {
			failed := dupID
			report.FailedID = &failed
			report.Error = err.Error()
			s.log.Error("contact merge failed",
				"primary_id", primaryID, "duplicate_id", dupID, "merged_before", len(report.Merged), "err", err)
			return report, fmt.Errorf("merge %s into %s: %w", dupID, primaryID, err)
		}

		report.Merged = append(report.Merged, dupID)
		report.Moved.Messages += counts.Messages
		report.Moved.Notes += counts.Notes
		report.Moved.ScheduledMessages += counts.ScheduledMessages

		s.log.Info("contact merged", "primary_id", primaryID, "duplicate_id", dupID,
			"messages", counts.Messages, "notes", counts.Notes, "scheduled", counts.ScheduledMessages)
		emit(ctx, s.events, s.log, ports.EventContactMerged, primaryID.String(), ContactMerged{
			PrimaryID:   primaryID,
			DuplicateID: dupID,
			Moved:       counts,
		})
	}
	return report, nil
}

// IsNotFound reports whether err means a referenced message or contact
// does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrMessageNotFound) || errors.Is(err, domain.ErrContactNotFound)
}
