package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"channel-gateway/internal/adapters/db/memory"
	"channel-gateway/internal/domain"
	"channel-gateway/internal/identity"
	"channel-gateway/internal/ports"

	"github.com/google/uuid"
)

func TestCreateContact_Normalizes(t *testing.T) {
	svc := NewContactService(memory.New(), nil, testLogger())

	c, err := svc.CreateContact(context.Background(), NewContactRequest{
		FirstName: " Jane ",
		LastName:  "Doe",
		Email:     "Jane.Doe@Example.com",
		Phone:     "+1 (415) 555-0100",
		Handle:    "@janedoe",
		Tags:      []string{"vip", "vip", " "},
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.FirstName != "Jane" || *c.Email != "jane.doe@example.com" || *c.Phone != "+14155550100" || *c.Handle != "janedoe" {
		t.Fatalf("unexpected contact %+v", c)
	}
	if len(c.Tags) != 1 || c.Address != nil {
		t.Errorf("unexpected tags %v or address", c.Tags)
	}

	var vErr *domain.ValidationError
	if _, err := svc.CreateContact(context.Background(), NewContactRequest{}); !errors.As(err, &vErr) {
		t.Errorf("empty contact: expected ValidationError, got %v", err)
	}
	if _, err := svc.CreateContact(context.Background(), NewContactRequest{FirstName: "X", Phone: "call me"}); !errors.As(err, &vErr) {
		t.Errorf("bad phone: expected ValidationError, got %v", err)
	}
}

func TestScheduleMessage(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	svc := NewContactService(store, nil, testLogger())
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	var vErr *domain.ValidationError
	if _, err := svc.ScheduleMessage(ctx, ScheduleRequest{ContactID: contact.ID, Channel: "SMS", Body: "x", ScheduledFor: now}); !errors.As(err, &vErr) {
		t.Errorf("past time: expected ValidationError, got %v", err)
	}

	sm, err := svc.ScheduleMessage(ctx, ScheduleRequest{ContactID: contact.ID, Channel: "SMS", Body: "Reminder", ScheduledFor: now.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if sm.Status != domain.ScheduledPending || sm.Channel != domain.ChannelSMS {
		t.Errorf("unexpected scheduled message %+v", sm)
	}
	if _, err := svc.ScheduleMessage(ctx, ScheduleRequest{ContactID: uuid.New(), Channel: "SMS", Body: "x", ScheduledFor: now.Add(time.Hour)}); !errors.Is(err, domain.ErrContactNotFound) {
		t.Errorf("expected ErrContactNotFound, got %v", err)
	}
}

func strPtr(s string) *string { return &s }

func createAt(t *testing.T, store *memory.Store, c domain.Contact, at time.Time) domain.Contact {
	t.Helper()
	c.CreatedAt = at
	if err := store.CreateContact(context.Background(), &c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestFindDuplicates(t *testing.T) {
	store := memory.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	a := domain.NewContact("Alice", "Walker")
	a.Email = strPtr("alice@example.com")
	a = createAt(t, store, a, base)

	b := domain.NewContact("Ally", "W")
	b.Email = strPtr("ALICE@example.com")
	b = createAt(t, store, b, base.Add(time.Minute))

	john := createAt(t, store, domain.NewContact("John", "Smith"), base.Add(2*time.Minute))
	jon := createAt(t, store, domain.NewContact("Jon", "Smith"), base.Add(3*time.Minute))
	createAt(t, store, domain.NewContact("Jane", "Doe"), base.Add(4*time.Minute))

	svc := NewContactService(store, nil, testLogger())
	if _, err := svc.AddNote(context.Background(), b.ID, nil, "prefers email", false); err != nil {
		t.Fatal(err)
	}

	groups, err := svc.FindDuplicates(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	email := groups[0].Contacts
	if len(email) != 2 || email[0].Contact.ID != a.ID || email[1].Contact.ID != b.ID || email[1].Reason != identity.ReasonEmail {
		t.Fatalf("unexpected email group %+v", email)
	}
	if email[1].Activity.Notes != 1 {
		t.Errorf("expected note count on duplicate, got %+v", email[1].Activity)
	}

	name := groups[1].Contacts
	if len(name) != 2 || name[0].Contact.ID != john.ID || name[1].Contact.ID != jon.ID || name[1].Reason != identity.ReasonName {
		t.Fatalf("unexpected name group %+v", name)
	}
}

func TestMerge_CountsAndPartialFailure(t *testing.T) {
	store := memory.New()
	pub := &recordingPublisher{}
	svc := NewContactService(store, pub, testLogger())
	ctx := context.Background()

	primary := seedPhoneContact(t, store, "+14155550001")
	dup1 := seedPhoneContact(t, store, "+14155550001")
	dup2 := seedPhoneContact(t, store, "+14155550001")
	seedPending(t, store, dup1, domain.ChannelSMS, "one")
	seedPending(t, store, dup1, domain.ChannelSMS, "two")
	if _, err := svc.AddNote(ctx, dup1.ID, nil, "note", true); err != nil {
		t.Fatal(err)
	}
	seedPending(t, store, dup2, domain.ChannelSMS, "three")

	missing := uuid.New()
	report, err := svc.Merge(ctx, primary.ID, []uuid.UUID{dup1.ID, missing, dup2.ID})
	if !errors.Is(err, domain.ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
	if len(report.Merged) != 1 || report.Merged[0] != dup1.ID || report.FailedID == nil || *report.FailedID != missing {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Moved != (ports.MergeCounts{Messages: 2, Notes: 1}) {
		t.Errorf("unexpected counts %+v", report.Moved)
	}

	if _, err := store.GetContact(ctx, dup1.ID); !errors.Is(err, domain.ErrContactNotFound) {
		t.Error("merged duplicate should be deleted")
	}
	left, _ := store.ListMessagesByContact(ctx, dup2.ID)
	if len(left) != 1 {
		t.Errorf("duplicate after the failure must be untouched, has %d messages", len(left))
	}
	moved, _ := store.ListMessagesByContact(ctx, primary.ID)
	if len(moved) != 2 {
		t.Errorf("primary should own 2 messages, has %d", len(moved))
	}
	if types := pub.types(); len(types) != 1 || types[0] != ports.EventContactMerged {
		t.Errorf("unexpected events %v", types)
	}
}

func TestMerge_RejectsBadRequests(t *testing.T) {
	store := memory.New()
	svc := NewContactService(store, nil, testLogger())
	primary := seedPhoneContact(t, store, "")
	dup := seedPhoneContact(t, store, "")
	ctx := context.Background()

	var vErr *domain.ValidationError
	for name, ids := range map[string][]uuid.UUID{
		"empty":    nil,
		"self":     {dup.ID, primary.ID},
		"repeated": {dup.ID, dup.ID},
	} {
		if _, err := svc.Merge(ctx, primary.ID, ids); !errors.As(err, &vErr) {
			t.Errorf("%s: expected ValidationError, got %v", name, err)
		}
	}
	if _, err := svc.Merge(ctx, uuid.New(), []uuid.UUID{dup.ID}); !errors.Is(err, domain.ErrContactNotFound) {
		t.Errorf("unknown primary: expected ErrContactNotFound, got %v", err)
	}
	if _, err := store.GetContact(ctx, dup.ID); err != nil {
		t.Error("rejected merge must not touch the duplicate")
	}
}

func TestHistory(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	first := seedPending(t, store, contact, domain.ChannelSMS, "first")
	second := seedPending(t, store, contact, domain.ChannelEmail, "second")
	svc := NewContactService(store, nil, testLogger())

	msgs, err := svc.History(context.Background(), contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != first.ID || msgs[1].ID != second.ID {
		t.Fatalf("unexpected history %+v", msgs)
	}
	if _, err := svc.History(context.Background(), uuid.New()); !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
