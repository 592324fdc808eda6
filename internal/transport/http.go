package transport

import (
	"log/slog"
	"time"

	"channel-gateway/internal/app"
	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handler serves the messages and contacts API.
type Handler struct {
	dispatcher *app.Dispatcher
	contacts   *app.ContactService
	jobs       ports.JobPublisher // nil disables ?async=true
	log        *slog.Logger
}

func NewHandler(dispatcher *app.Dispatcher, contacts *app.ContactService, jobs ports.JobPublisher, log *slog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, contacts: contacts, jobs: jobs, log: log}
}

// Register mounts all API routes onto router.
func (h *Handler) Register(router fiber.Router) {
	router.Post("/messages", h.CreateMessage)
	router.Post("/messages/:id/send", h.SendMessage)
	router.Post("/messages/:id/resend", h.ResendMessage)

	router.Post("/contacts", h.CreateContact)
	router.Get("/contacts/duplicates", h.FindDuplicates)
	router.Post("/contacts/merge", h.MergeContacts)
	router.Get("/contacts/:id/messages", h.ContactMessages)
	router.Post("/contacts/:id/notes", h.AddNote)

	router.Post("/scheduled-messages", h.ScheduleMessage)
}

func paramID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Field: "id", Reason: "must be a UUID"}
	}
	return id, nil
}

func badBody() error {
	return &domain.ValidationError{Reason: "invalid request body"}
}

// ── Messages ──────────────────────────────────────────────────────────────────

type createMessageRequest struct {
	ContactID    uuid.UUID  `json:"contactId"`
	SenderUserID *uuid.UUID `json:"senderUserId"`
	Channel      string     `json:"channel"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	MediaURLs    []string   `json:"mediaUrls"`
}

// CreateMessage stores a PENDING outbound message.
//
// POST /api/messages
func (h *Handler) CreateMessage(c *fiber.Ctx) error {
	var req createMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.log, badBody(), nil)
	}
	msg, err := h.dispatcher.CreateOutbound(c.UserContext(), app.OutboundRequest{
		ContactID:    req.ContactID,
		SenderUserID: req.SenderUserID,
		Channel:      req.Channel,
		Subject:      req.Subject,
		Body:         req.Body,
		MediaURLs:    req.MediaURLs,
	})
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

type sendRequest struct {
	Channel   string    `json:"channel"`
	ContactID uuid.UUID `json:"contactId"`
}

// SendMessage dispatches a PENDING message, or queues it with ?async=true.
//
// POST /api/messages/:id/send
// Body: { "channel": "SMS", "contactId": "..." }
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.log, badBody(), nil)
	}
	ch, err := domain.ParseChannel(req.Channel)
	if err != nil {
		return writeError(c, h.log, err, nil)
	}

	if c.QueryBool("async") {
		if h.jobs == nil {
			return writeError(c, h.log, fiber.NewError(fiber.StatusNotImplemented, "async dispatch is not enabled"), nil)
		}
		job := ports.SendJob{MessageID: id, Channel: ch, ContactID: req.ContactID}
		if err := h.jobs.PublishSendJob(c.UserContext(), job); err != nil {
			return writeError(c, h.log, err, nil)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message_id": id, "queued": true})
	}

	msg, err := h.dispatcher.SendMessage(c.UserContext(), id, ch, req.ContactID)
	if err != nil {
		var extra fiber.Map
		if msg.ID != uuid.Nil {
			extra = fiber.Map{"message": msg}
		}
		return writeError(c, h.log, err, extra)
	}
	return c.JSON(msg)
}

// ResendMessage copies a finished message into a new one and sends it.
//
// POST /api/messages/:id/resend
func (h *Handler) ResendMessage(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	msg, err := h.dispatcher.Resend(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// ── Contacts ──────────────────────────────────────────────────────────────────

type createContactRequest struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Handle    string   `json:"handle"`
	Tags      []string `json:"tags"`
}

// CreateContact adds a contact by hand.
//
// POST /api/contacts
func (h *Handler) CreateContact(c *fiber.Ctx) error {
	var req createContactRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.log, badBody(), nil)
	}
	contact, err := h.contacts.CreateContact(c.UserContext(), app.NewContactRequest(req))
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(contact)
}

// ContactMessages returns a contact's conversation across all channels.
//
// GET /api/contacts/:id/messages
func (h *Handler) ContactMessages(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	msgs, err := h.contacts.History(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

type noteRequest struct {
	Content   string     `json:"content"`
	IsPrivate bool       `json:"isPrivate"`
	UserID    *uuid.UUID `json:"userId"`
}

// AddNote attaches a note to a contact.
//
// POST /api/contacts/:id/notes
func (h *Handler) AddNote(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	var req noteRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.log, badBody(), nil)
	}
	note, err := h.contacts.AddNote(c.UserContext(), id, req.UserID, req.Content, req.IsPrivate)
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(note)
}

// FindDuplicates lists contacts that look like the same person.
//
// GET /api/contacts/duplicates
func (h *Handler) FindDuplicates(c *fiber.Ctx) error {
	groups, err := h.contacts.FindDuplicates(c.UserContext())
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	return c.JSON(fiber.Map{"groups": groups})
}

type mergeRequest struct {
	PrimaryID    uuid.UUID   `json:"primaryId"`
	DuplicateIDs []uuid.UUID `json:"duplicateIds"`
}

// MergeContacts folds duplicates into a primary contact. A partial failure
// still returns the report.
//
// POST /api/contacts/merge
func (h *Handler) MergeContacts(c *fiber.Ctx) error {
	var req mergeRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.log, badBody(), nil)
	}
	report, err := h.contacts.Merge(c.UserContext(), req.PrimaryID, req.DuplicateIDs)
	if err != nil {
		return writeError(c, h.log, err, fiber.Map{"report": report})
	}
	return c.JSON(report)
}

// ── Scheduled messages ────────────────────────────────────────────────────────

type scheduleRequest struct {
	ContactID    uuid.UUID `json:"contactId"`
	Channel      string    `json:"channel"`
	Body         string    `json:"body"`
	Subject      string    `json:"subject"`
	MediaURLs    []string  `json:"mediaUrls"`
	ScheduledFor time.Time `json:"scheduledFor"`
}

// ScheduleMessage stores a send for the schedule publisher to pick up.
//
// POST /api/scheduled-messages
func (h *Handler) ScheduleMessage(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, h.log, badBody(), nil)
	}
	sm, err := h.contacts.ScheduleMessage(c.UserContext(), app.ScheduleRequest(req))
	if err != nil {
		return writeError(c, h.log, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(sm)
}

// Health reports liveness.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}
