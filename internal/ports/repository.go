package ports

import (
	"context"
	"time"

	"channel-gateway/internal/domain"

	"github.com/google/uuid"
)

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// CreateMessage persists a new message; the store assigns Seq.
	CreateMessage(ctx context.Context, m *domain.Message) error

	// CreateInboundMessage inserts an inbound message unless one with the same
	// (external id, INBOUND) exists. It reports whether a row was created and
	// fills m with the stored row either way.
	CreateInboundMessage(ctx context.Context, m *domain.Message) (bool, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error)

	// FindByExternalID looks a message up by provider id and direction.
	FindByExternalID(ctx context.Context, externalID string, dir domain.Direction) (domain.Message, error)

	// ClaimMessage leases a PENDING message to one dispatcher until until.
	// It returns domain.ErrInvalidStatus when the message is no longer
	// PENDING or another dispatcher holds a lease that has not expired at now.
	ClaimMessage(ctx context.Context, id uuid.UUID, now, until time.Time) error

	// TransitionMessage writes m only if the stored status still equals from.
	// It returns domain.ErrInvalidStatus when another writer got there first.
	TransitionMessage(ctx context.Context, m domain.Message, from domain.Status) error

	// ListMessagesByContact returns a contact's history in arrival order.
	ListMessagesByContact(ctx context.Context, contactID uuid.UUID) ([]domain.Message, error)
}

// ContactRepository defines persistence operations for contacts.
type ContactRepository interface {
	// CreateContact inserts c. A clash on the normalized address returns
	// domain.ErrDuplicateAddress.
	CreateContact(ctx context.Context, c *domain.Contact) error

	GetContact(ctx context.Context, id uuid.UUID) (domain.Contact, error)

	// FindContactByAddress returns the oldest contact whose address, phone,
	// email or handle equals the normalized address.
	FindContactByAddress(ctx context.Context, addr domain.Address) (domain.Contact, error)

	// ListContacts returns every contact ordered by creation time.
	ListContacts(ctx context.Context) ([]domain.Contact, error)

	// TouchContact sets lastContactedAt.
	TouchContact(ctx context.Context, id uuid.UUID, at time.Time) error

	// CountActivity returns the number of messages and notes per contact.
	CountActivity(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ActivityCount, error)
}

// ActivityCount summarizes what hangs off a contact.
type ActivityCount struct {
	Messages int64 `json:"messages"`
	Notes    int64 `json:"notes"`
}

// NoteRepository persists contact notes.
type NoteRepository interface {
	CreateNote(ctx context.Context, n *domain.Note) error
	ListNotes(ctx context.Context, contactID uuid.UUID) ([]domain.Note, error)
}

// ScheduledMessageRepository persists deferred sends.
type ScheduledMessageRepository interface {
	CreateScheduledMessage(ctx context.Context, s *domain.ScheduledMessage) error
	ListScheduledMessages(ctx context.Context, contactID uuid.UUID) ([]domain.ScheduledMessage, error)

	// ListDueScheduledMessages returns up to limit SCHEDULED rows whose
	// time is at or before now, oldest first.
	ListDueScheduledMessages(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error)

	// UpdateScheduledStatus moves a row from one status to another. It
	// returns domain.ErrInvalidStatus when the row is no longer in from.
	UpdateScheduledStatus(ctx context.Context, id uuid.UUID, from, to domain.ScheduledStatus) error
}

// MergeCounts reports how many rows moved in one contact merge.
type MergeCounts struct {
	Messages          int64 `json:"messages"`
	Notes             int64 `json:"notes"`
	ScheduledMessages int64 `json:"scheduled_messages"`
}

// MergeRepository performs contact merges.
type MergeRepository interface {
	// MergeContact moves every message, note and scheduled message from
	// duplicateID to primaryID and deletes the duplicate, all in one
	// transaction. Either contact missing returns domain.ErrContactNotFound
	// and nothing changes.
	MergeContact(ctx context.Context, primaryID, duplicateID uuid.UUID) (MergeCounts, error)
}

// Repository is the full store the gateway talks to.
type Repository interface {
	MessageRepository
	ContactRepository
	NoteRepository
	ScheduledMessageRepository
	MergeRepository
}
