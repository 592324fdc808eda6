package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"channel-gateway/internal/adapters/db/memory"
	"channel-gateway/internal/adapters/provider/twilio"
	"channel-gateway/internal/config"
	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"
	"channel-gateway/internal/registry"

	"github.com/google/uuid"
)

func TestSendMessage_Success(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{{Success: true, ExternalID: "SM1"}}}
	pub := &recordingPublisher{}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, pub)

	got, err := d.SendMessage(context.Background(), msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusSent || got.ExternalRef() != "SM1" || got.SentAt == nil {
		t.Fatalf("unexpected message %+v", got)
	}
	if p := sms.payloads[0]; p.To != "+14155550001" || p.Body != "Hello" {
		t.Errorf("unexpected payload %+v", p)
	}

	stored, _ := store.GetMessage(context.Background(), msg.ID)
	if stored.Status != domain.StatusSent {
		t.Errorf("store not updated: %s", stored.Status)
	}
	c, _ := store.GetContact(context.Background(), contact.ID)
	if c.LastContactedAt == nil {
		t.Error("lastContactedAt not set")
	}
	if types := pub.types(); len(types) != 1 || types[0] != ports.EventMessageStatus {
		t.Errorf("unexpected events %v", types)
	}
}

func TestSendMessage_RetriesTransientThenSucceeds(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{
		ports.Failed(ports.FailureTransient, "twilio returned 503"),
		{Success: true, ExternalID: "SM2"},
	}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, nil)

	var waits []time.Duration
	d.sleep = func(_ context.Context, w time.Duration) error {
		waits = append(waits, w)
		return nil
	}

	got, err := d.SendMessage(context.Background(), msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusSent || got.ExternalRef() != "SM2" {
		t.Fatalf("unexpected message %+v", got)
	}
	if sms.calls() != 2 || len(waits) != 1 {
		t.Errorf("expected 2 calls and 1 backoff, got %d and %d", sms.calls(), len(waits))
	}
}

func TestSendMessage_TransientExhaustsAttempts(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{
		ports.Failed(ports.FailureTransient, "twilio: request timed out"),
	}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, nil)

	got, err := d.SendMessage(context.Background(), msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFailed || *got.FailureReason != "twilio: request timed out" {
		t.Fatalf("unexpected message %+v", got)
	}
	if sms.calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", sms.calls())
	}
}

func TestSendMessage_PermanentNotRetried(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{
		ports.Failed(ports.FailurePermanent, "twilio returned 400: invalid number"),
		{Success: true, ExternalID: "never"},
	}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, nil)

	got, err := d.SendMessage(context.Background(), msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFailed || sms.calls() != 1 {
		t.Fatalf("expected one failed attempt, got %s after %d calls", got.Status, sms.calls())
	}
}

func TestSendMessage_ConfigurationErrorSurfaces(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	d := newTestDispatcher(store, staticSenders{}, nil)

	got, err := d.SendMessage(context.Background(), msg.ID, domain.ChannelSMS, contact.ID)
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if got.Status != domain.StatusFailed || !strings.HasPrefix(*got.FailureReason, "no transport configured") {
		t.Fatalf("unexpected message %+v", got)
	}
	stored, _ := store.GetMessage(context.Background(), msg.ID)
	if stored.Status != domain.StatusFailed {
		t.Errorf("failure not persisted")
	}
}

func TestSendMessage_MissingDestination(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{{Success: true}}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, nil)

	got, err := d.SendMessage(context.Background(), msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFailed || sms.calls() != 0 {
		t.Fatalf("expected FAILED without a provider call, got %s after %d calls", got.Status, sms.calls())
	}
}

func TestSendMessage_Preconditions(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	other := seedPhoneContact(t, store, "+14155550002")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{{Success: true, ExternalID: "SM1"}}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, nil)
	ctx := context.Background()

	if _, err := d.SendMessage(ctx, uuid.New(), domain.ChannelSMS, contact.ID); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
	if _, err := d.SendMessage(ctx, msg.ID, domain.ChannelSMS, other.ID); !errors.Is(err, domain.ErrContactMismatch) {
		t.Errorf("expected ErrContactMismatch, got %v", err)
	}
	if _, err := d.SendMessage(ctx, msg.ID, domain.Channel("PIGEON"), contact.ID); !errors.Is(err, domain.ErrUnsupportedChannel) {
		t.Errorf("expected ErrUnsupportedChannel, got %v", err)
	}
	stored, _ := store.GetMessage(ctx, msg.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("rejected request changed the message: %s", stored.Status)
	}

	if _, err := d.SendMessage(ctx, msg.ID, domain.ChannelSMS, contact.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SendMessage(ctx, msg.ID, domain.ChannelSMS, contact.ID); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Errorf("second send: expected ErrInvalidStatus, got %v", err)
	}
	if sms.calls() != 1 {
		t.Errorf("expected exactly one provider call, got %d", sms.calls())
	}
}

func TestSendMessage_IgnoresCancellation(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{{Success: true, ExternalID: "SM1"}}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := d.SendMessage(ctx, msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil || got.Status != domain.StatusSent {
		t.Fatalf("expected SENT despite cancelled caller, got %s %v", got.Status, err)
	}
}

func TestCreateOutbound_Validation(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	d := newTestDispatcher(store, staticSenders{}, nil)
	ctx := context.Background()

	var vErr *domain.ValidationError
	if _, err := d.CreateOutbound(ctx, OutboundRequest{ContactID: contact.ID, Channel: "SMS", Body: "  "}); !errors.As(err, &vErr) {
		t.Errorf("empty body: expected ValidationError, got %v", err)
	}
	long := strings.Repeat("é", MaxBodyLength+1)
	if _, err := d.CreateOutbound(ctx, OutboundRequest{ContactID: contact.ID, Channel: "SMS", Body: long}); !errors.As(err, &vErr) {
		t.Errorf("long body: expected ValidationError, got %v", err)
	}
	if _, err := d.CreateOutbound(ctx, OutboundRequest{ContactID: contact.ID, Channel: "FAX", Body: "hi"}); !errors.Is(err, domain.ErrUnsupportedChannel) {
		t.Errorf("expected ErrUnsupportedChannel, got %v", err)
	}
	if _, err := d.CreateOutbound(ctx, OutboundRequest{ContactID: uuid.New(), Channel: "SMS", Body: "hi"}); !errors.Is(err, domain.ErrContactNotFound) {
		t.Errorf("expected ErrContactNotFound, got %v", err)
	}

	m, err := d.CreateOutbound(ctx, OutboundRequest{ContactID: contact.ID, Channel: "EMAIL", Body: strings.Repeat("é", MaxBodyLength)})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != domain.StatusPending || m.Direction != domain.DirectionOutbound || m.Seq == 0 {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestResend_CreatesNewMessage(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{
		ports.Failed(ports.FailurePermanent, "rejected"),
		{Success: true, ExternalID: "SM9"},
	}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, nil)
	ctx := context.Background()

	if _, err := d.Resend(ctx, msg.ID); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("pending message must not be resendable, got %v", err)
	}
	if _, err := d.SendMessage(ctx, msg.ID, domain.ChannelSMS, contact.ID); err != nil {
		t.Fatal(err)
	}

	again, err := d.Resend(ctx, msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID == msg.ID || again.Status != domain.StatusSent || again.Body != "Hello" {
		t.Fatalf("unexpected resend %+v", again)
	}
	orig, _ := store.GetMessage(ctx, msg.ID)
	if orig.Status != domain.StatusFailed {
		t.Errorf("original changed to %s", orig.Status)
	}
}

func TestSendMessage_SMSEndToEnd(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Your order shipped")

	reg := registry.New(config.Providers{
		SendTimeout: 2 * time.Second,
		Twilio: config.Twilio{
			AccountSID:  "AC123",
			AuthToken:   "secret",
			PhoneNumber: "+15550000000",
			BaseURL:     srv.URL,
		},
	}, testLogger())
	d := newTestDispatcher(store, reg, nil)
	ctx := context.Background()

	sent, err := d.SendMessage(ctx, msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sent.Status != domain.StatusSent || sent.ExternalRef() != "SM123" || requests.Load() != 1 {
		t.Fatalf("unexpected send outcome %+v", sent)
	}

	events, err := twilio.Normalizer{}.Parse(ports.RawPayload{Form: url.Values{
		"MessageSid":    {"SM123"},
		"MessageStatus": {"delivered"},
		"From":          {"+15550000000"},
		"To":            {"+14155550001"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	in := NewInboundService(store, NewResolver(store, testLogger()), nil, testLogger())
	if err := in.HandleEvents(ctx, events); err != nil {
		t.Fatal(err)
	}

	final, _ := store.GetMessage(ctx, msg.ID)
	if final.Status != domain.StatusDelivered || final.DeliveredAt == nil {
		t.Fatalf("expected DELIVERED, got %+v", final)
	}
}

func TestSendMessage_CeilingMakesNoRequest(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, strings.Repeat("a", twilio.MaxSMSBody+1))

	reg := registry.New(config.Providers{
		SendTimeout: time.Second,
		Twilio:      config.Twilio{AccountSID: "AC1", AuthToken: "t", PhoneNumber: "+15550000000", BaseURL: srv.URL},
	}, testLogger())
	d := newTestDispatcher(store, reg, nil)

	got, err := d.SendMessage(context.Background(), msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusFailed || requests.Load() != 0 {
		t.Fatalf("expected FAILED with no request, got %s after %d requests", got.Status, requests.Load())
	}
}

// slowSender holds each send long enough for a second dispatch to overlap.
type slowSender struct {
	*scriptedSender
	delay time.Duration
}

func (s slowSender) Send(ctx context.Context, p ports.SendPayload) ports.SendResult {
	time.Sleep(s.delay)
	return s.scriptedSender.Send(ctx, p)
}

func TestSendMessage_ConcurrentDispatchCallsProviderOnce(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{{Success: true, ExternalID: "SM1"}}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: slowSender{sms, 50 * time.Millisecond}}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = d.SendMessage(context.Background(), msg.ID, domain.ChannelSMS, contact.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	if n := sms.calls(); n != 1 {
		t.Fatalf("provider called %d times, want 1", n)
	}
	okCount := 0
	for _, err := range errs {
		switch {
		case err == nil:
			okCount++
		case !errors.Is(err, domain.ErrInvalidStatus):
			t.Errorf("losing dispatch: expected ErrInvalidStatus, got %v", err)
		}
	}
	if okCount != 1 {
		t.Fatalf("expected exactly one successful dispatch, got %d (%v)", okCount, errs)
	}

	stored, _ := store.GetMessage(context.Background(), msg.ID)
	if stored.Status != domain.StatusSent || stored.ExternalRef() != "SM1" {
		t.Errorf("unexpected stored message %s %q", stored.Status, stored.ExternalRef())
	}
}

func TestSendMessage_ExpiredLeaseCanBeRedispatched(t *testing.T) {
	store := memory.New()
	contact := seedPhoneContact(t, store, "+14155550001")
	msg := seedPending(t, store, contact, domain.ChannelSMS, "Hello")
	ctx := context.Background()

	// A dispatcher that died mid-send left a lease that has run out.
	past := time.Now().UTC().Add(-time.Hour)
	if err := store.ClaimMessage(ctx, msg.ID, past, past.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	sms := &scriptedSender{ch: domain.ChannelSMS, results: []ports.SendResult{{Success: true, ExternalID: "SM2"}}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelSMS: sms}, nil)
	got, err := d.SendMessage(ctx, msg.ID, domain.ChannelSMS, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusSent || sms.calls() != 1 {
		t.Fatalf("expected one send after lease expiry, got %s with %d calls", got.Status, sms.calls())
	}
}

func TestSendMessage_CarriesSubject(t *testing.T) {
	store := memory.New()
	email := "ada@example.com"
	contact := domain.NewContact("Ada", "Lovelace")
	contact.Email = &email
	if err := store.CreateContact(context.Background(), &contact); err != nil {
		t.Fatal(err)
	}

	sender := &scriptedSender{ch: domain.ChannelEmail, results: []ports.SendResult{{Success: true, ExternalID: "em_1"}}}
	d := newTestDispatcher(store, staticSenders{domain.ChannelEmail: sender}, nil)

	msg, err := d.CreateOutbound(context.Background(), OutboundRequest{
		ContactID: contact.ID, Channel: "EMAIL", Subject: "Invoice #42", Body: "Attached.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.SendMessage(context.Background(), msg.ID, domain.ChannelEmail, contact.ID); err != nil {
		t.Fatal(err)
	}
	if p := sender.payloads[0]; p.Subject != "Invoice #42" || p.To != email {
		t.Errorf("unexpected payload %+v", p)
	}

	long := OutboundRequest{ContactID: contact.ID, Channel: "EMAIL", Subject: strings.Repeat("s", MaxSubjectLength+1), Body: "x"}
	var vErr *domain.ValidationError
	if _, err := d.CreateOutbound(context.Background(), long); !errors.As(err, &vErr) {
		t.Errorf("expected a validation error for a long subject, got %v", err)
	}
}
