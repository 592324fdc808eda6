package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"channel-gateway/internal/adapters/db/memory"
	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedSender answers each Send with the next scripted result and keeps
// repeating the last one.
type scriptedSender struct {
	ch domain.Channel

	mu       sync.Mutex
	results  []ports.SendResult
	payloads []ports.SendPayload
}

func (s *scriptedSender) Channel() domain.Channel { return s.ch }

func (s *scriptedSender) Send(_ context.Context, p ports.SendPayload) ports.SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.payloads)
	s.payloads = append(s.payloads, p)
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

func (s *scriptedSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

// staticSenders serves fixed senders and reports every other channel as
// unconfigured.
type staticSenders map[domain.Channel]ports.Sender

func (m staticSenders) Sender(ch domain.Channel) (ports.Sender, error) {
	if s, ok := m[ch]; ok {
		return s, nil
	}
	return nil, &domain.ConfigurationError{Channel: ch, Reason: "credentials missing"}
}

type publishedEvent struct {
	Type          string
	CorrelationID string
	Data          any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType, correlationID string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{eventType, correlationID, data})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestDispatcher(store ports.Repository, senders SenderSource, events ports.EventPublisher) *Dispatcher {
	d := NewDispatcher(store, senders, events, RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, testLogger())
	d.sleep = noSleep
	return d
}

func seedPhoneContact(t *testing.T, store *memory.Store, phone string) domain.Contact {
	t.Helper()
	c := domain.NewContact("Ada", "Lovelace")
	if phone != "" {
		c.Phone = &phone
	}
	if err := store.CreateContact(context.Background(), &c); err != nil {
		t.Fatal(err)
	}
	return c
}

func seedPending(t *testing.T, store *memory.Store, contact domain.Contact, ch domain.Channel, body string) domain.Message {
	t.Helper()
	m := domain.NewOutboundMessage(contact.ID, nil, ch, body, nil)
	if err := store.CreateMessage(context.Background(), &m); err != nil {
		t.Fatal(err)
	}
	return m
}
