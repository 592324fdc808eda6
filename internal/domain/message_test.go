package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCanTransition_Table(t *testing.T) {
	all := []Status{StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed}
	legal := map[[2]Status]bool{
		{StatusPending, StatusSent}:   true,
		{StatusPending, StatusFailed}: true,
		{StatusSent, StatusDelivered}: true,
		{StatusSent, StatusRead}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusRead, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusSent} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestMessage_MarkSentStampsExternalID(t *testing.T) {
	m := NewOutboundMessage(uuid.New(), nil, ChannelSMS, "Hi", nil)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := m.MarkSent("SM123", at); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if m.Status != StatusSent {
		t.Fatalf("expected SENT, got %s", m.Status)
	}
	if m.ExternalRef() != "SM123" {
		t.Errorf("expected external id SM123, got %q", m.ExternalRef())
	}
	if m.SentAt == nil || !m.SentAt.Equal(at) {
		t.Errorf("expected sentAt %v, got %v", at, m.SentAt)
	}
}

func TestMessage_DeliveredThenReadRejected(t *testing.T) {
	m := NewOutboundMessage(uuid.New(), nil, ChannelSMS, "Hi", nil)
	now := time.Now()
	if err := m.MarkSent("SM1", now); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(StatusDelivered, now); err != nil {
		t.Fatalf("sent -> delivered: %v", err)
	}
	if m.DeliveredAt == nil {
		t.Error("deliveredAt should be set")
	}

	err := m.Transition(StatusRead, now)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if m.Status != StatusDelivered {
		t.Errorf("rejected transition must not change status, got %s", m.Status)
	}
}

func TestMessage_FailedIsFinal(t *testing.T) {
	m := NewOutboundMessage(uuid.New(), nil, ChannelWhatsApp, "Hi", nil)
	if err := m.MarkFailed("provider rejected"); err != nil {
		t.Fatal(err)
	}
	if m.FailureReason == nil || *m.FailureReason != "provider rejected" {
		t.Errorf("unexpected failure reason %v", m.FailureReason)
	}
	if err := m.MarkSent("SM2", time.Now()); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus leaving FAILED, got %v", err)
	}
}

func TestNewInboundMessage(t *testing.T) {
	m := NewInboundMessage(uuid.New(), ChannelWhatsApp, "hello", nil, "SM9")
	if m.Direction != DirectionInbound || m.Status != StatusSent {
		t.Fatalf("unexpected inbound shape: %s %s", m.Direction, m.Status)
	}
	if m.SentAt == nil {
		t.Error("inbound messages carry sentAt")
	}
	if m.MediaURLs == nil {
		t.Error("media list should be empty, not nil")
	}
}

func TestParseChannel(t *testing.T) {
	if c, err := ParseChannel("WHATSAPP"); err != nil || c != ChannelWhatsApp {
		t.Fatalf("ParseChannel(WHATSAPP) = %v, %v", c, err)
	}
	if _, err := ParseChannel("PIGEON"); !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("expected ErrUnsupportedChannel, got %v", err)
	}
}
