package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
)

type fakeProvider struct {
	id       string
	priority int
	channels []entity.Channel
	sendErr  error
	receipt  Receipt
	calls    int
}

func (p *fakeProvider) ID() string                 { return p.id }
func (p *fakeProvider) Priority() int              { return p.priority }
func (p *fakeProvider) Channels() []entity.Channel { return p.channels }

func (p *fakeProvider) Send(_ context.Context, _ Message) (Receipt, error) {
	p.calls++
	if p.sendErr != nil {
		return Receipt{}, p.sendErr
	}
	return p.receipt, nil
}

type recordedAttempts struct {
	attempts []entity.DeliveryAttempt
}

func (r *recordedAttempts) RecordAttempt(_ context.Context, att entity.DeliveryAttempt) error {
	r.attempts = append(r.attempts, att)
	return nil
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type seqNumberID struct {
	last int64
}

func (s *seqNumberID) Generate() int64 {
	s.last++
	return s.last
}

func smsProvider(id string, priority int, err error) *fakeProvider {
	return &fakeProvider{
		id:       id,
		priority: priority,
		channels: []entity.Channel{entity.ChannelSMS},
		sendErr:  err,
		receipt:  Receipt{VendorMessageID: "vm-" + id},
	}
}

func newTestDispatcher(reg *Registry, rec AttemptRecorder) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Registry:  reg,
		Recorder:  rec,
		IDs:       &seqNumberID{},
		Clock:     &fixedClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)},
		RetryBase: time.Millisecond,
	})
}

func TestDispatchNoProvider(t *testing.T) {
	d := newTestDispatcher(NewRegistry(nil), nil)

	_, err := d.Dispatch(context.Background(), 1, entity.ChannelSMS, Message{})
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("error = %v, want ErrNoProvider", err)
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	primary := smsProvider("primary", 20, nil)
	secondary := smsProvider("secondary", 10, nil)

	reg := NewRegistry(nil)
	reg.Register(secondary)
	reg.Register(primary)

	rec := &recordedAttempts{}
	d := newTestDispatcher(reg, rec)

	receipt, err := d.Dispatch(context.Background(), 7, entity.ChannelSMS, Message{Recipient: "+15550001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.ProviderID != "primary" {
		t.Fatalf("provider = %q, want the higher priority one", receipt.ProviderID)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary should not be called when primary succeeds")
	}
	if len(rec.attempts) != 1 || rec.attempts[0].Status != entity.AttemptStatusSent {
		t.Fatalf("attempts = %+v, want one sent row", rec.attempts)
	}
	if rec.attempts[0].ChallengeRowID != 7 {
		t.Fatalf("attempt row id = %d, want 7", rec.attempts[0].ChallengeRowID)
	}
}

func TestDispatchFallsThroughOnFailure(t *testing.T) {
	vendorErr := &SendError{Kind: entity.ErrorKindVendorRejected, Detail: "bad recipient"}
	first := smsProvider("first", 30, vendorErr)
	second := smsProvider("second", 20, vendorErr)
	third := smsProvider("third", 10, nil)

	reg := NewRegistry(nil)
	reg.Register(first)
	reg.Register(second)
	reg.Register(third)

	rec := &recordedAttempts{}
	d := newTestDispatcher(reg, rec)

	receipt, err := d.Dispatch(context.Background(), 1, entity.ChannelSMS, Message{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.ProviderID != "third" {
		t.Fatalf("provider = %q, want third", receipt.ProviderID)
	}

	if len(rec.attempts) != 3 {
		t.Fatalf("attempts = %d, want 3 (two failed, one sent)", len(rec.attempts))
	}
	if rec.attempts[0].Status != entity.AttemptStatusFailed || rec.attempts[0].ErrorKind != entity.ErrorKindVendorRejected {
		t.Fatalf("first attempt = %+v, want failed vendor-rejected", rec.attempts[0])
	}
	if rec.attempts[2].Status != entity.AttemptStatusSent {
		t.Fatalf("last attempt = %+v, want sent", rec.attempts[2])
	}
}

func TestDispatchAssignsAttemptRowIDs(t *testing.T) {
	vendorErr := &SendError{Kind: entity.ErrorKindVendorRejected, Detail: "bad recipient"}

	reg := NewRegistry(nil)
	reg.Register(smsProvider("first", 30, vendorErr))
	reg.Register(smsProvider("second", 20, vendorErr))
	reg.Register(smsProvider("third", 10, nil))

	rec := &recordedAttempts{}
	d := newTestDispatcher(reg, rec)

	if _, err := d.Dispatch(context.Background(), 1, entity.ChannelSMS, Message{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(rec.attempts))
	}
	seen := make(map[int64]bool, len(rec.attempts))
	for i, att := range rec.attempts {
		if att.RowID == 0 {
			t.Fatalf("attempt %d has zero row id", i)
		}
		if seen[att.RowID] {
			t.Fatalf("attempt %d reuses row id %d", i, att.RowID)
		}
		seen[att.RowID] = true
	}
}

func TestDispatchAllFailed(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(smsProvider("only", 10, &SendError{Kind: entity.ErrorKindQuotaExceeded, Detail: "over quota"}))

	d := newTestDispatcher(reg, &recordedAttempts{})

	_, err := d.Dispatch(context.Background(), 1, entity.ChannelSMS, Message{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
}

func TestDispatchRetriesNetworkFaults(t *testing.T) {
	p := smsProvider("flaky", 10, &SendError{Kind: entity.ErrorKindNetwork, Detail: "connection reset"})

	reg := NewRegistry(nil)
	reg.Register(p)

	d := NewDispatcher(DispatcherConfig{
		Registry:   reg,
		Clock:      &fixedClock{now: time.Now()},
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
	})

	_, err := d.Dispatch(context.Background(), 1, entity.ChannelSMS, Message{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d, want 1 + 2 retries for network faults", p.calls)
	}
}

func TestDispatchDoesNotRetryVendorRejection(t *testing.T) {
	p := smsProvider("strict", 10, &SendError{Kind: entity.ErrorKindVendorRejected, Detail: "bad number"})

	reg := NewRegistry(nil)
	reg.Register(p)

	d := NewDispatcher(DispatcherConfig{
		Registry:   reg,
		Clock:      &fixedClock{now: time.Now()},
		MaxRetries: 5,
		RetryBase:  time.Millisecond,
	})

	_, err := d.Dispatch(context.Background(), 1, entity.ChannelSMS, Message{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d, want no retries on vendor rejection", p.calls)
	}
}

func TestDispatchSkipsOpenBreaker(t *testing.T) {
	clk := &fixedClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}

	reg := NewRegistry(func() *Breaker { return NewBreaker(1, time.Minute, 0) })
	failing := smsProvider("failing", 20, &SendError{Kind: entity.ErrorKindVendorRejected, Detail: "down"})
	healthy := smsProvider("healthy", 10, nil)
	reg.Register(failing)
	reg.Register(healthy)

	d := NewDispatcher(DispatcherConfig{
		Registry:  reg,
		Clock:     clk,
		RetryBase: time.Millisecond,
	})

	// First dispatch fails over to healthy and opens failing's breaker.
	receipt, err := d.Dispatch(context.Background(), 1, entity.ChannelSMS, Message{})
	if err != nil || receipt.ProviderID != "healthy" {
		t.Fatalf("receipt = %+v err = %v, want healthy", receipt, err)
	}
	if failing.calls != 1 {
		t.Fatalf("failing calls = %d, want 1", failing.calls)
	}

	// Second dispatch must skip the open breaker entirely.
	if _, err := d.Dispatch(context.Background(), 2, entity.ChannelSMS, Message{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failing.calls != 1 {
		t.Fatalf("failing calls = %d, open breaker should not be probed yet", failing.calls)
	}

	// After the cooldown the provider gets another chance.
	clk.now = clk.now.Add(2 * time.Minute)
	if _, err := d.Dispatch(context.Background(), 3, entity.ChannelSMS, Message{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failing.calls != 2 {
		t.Fatalf("failing calls = %d, want a probe after cooldown", failing.calls)
	}
}

func TestDispatchDeadline(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(smsProvider("any", 10, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDispatcher(reg, nil)
	_, err := d.Dispatch(ctx, 1, entity.ChannelSMS, Message{})
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("error = %v, want ErrDeadline", err)
	}
}

func TestBreaker(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("OpensAtThreshold", func(t *testing.T) {
		b := NewBreaker(3, time.Minute, 0)

		if b.Failure(now) || b.Failure(now) {
			t.Fatalf("breaker opened before the threshold")
		}
		if !b.Failure(now) {
			t.Fatalf("third failure should open the breaker")
		}
		if b.Allow(now) {
			t.Fatalf("open breaker should not allow")
		}
		if !b.Allow(now.Add(2 * time.Minute)) {
			t.Fatalf("breaker should allow after cooldown")
		}
	})

	t.Run("SuccessResets", func(t *testing.T) {
		b := NewBreaker(2, time.Minute, 0)

		b.Failure(now)
		b.Success()
		if b.Failure(now) {
			t.Fatalf("failure count should reset after success")
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		b := NewBreaker(0, time.Minute, 0)
		for i := 0; i < 10; i++ {
			b.Failure(now)
		}
		if !b.Allow(now) {
			t.Fatalf("disabled breaker should always allow")
		}
	})

	t.Run("StaleRunRestarts", func(t *testing.T) {
		b := NewBreaker(3, time.Minute, 30*time.Second)

		b.Failure(now)
		b.Failure(now.Add(time.Second))

		// The run went quiet for longer than the window, so this
		// failure starts a fresh one instead of opening.
		if b.Failure(now.Add(2 * time.Minute)) {
			t.Fatalf("stale run should not open the breaker")
		}

		if b.Failure(now.Add(2*time.Minute + time.Second)) {
			t.Fatalf("second failure of the new run should not open")
		}
		if !b.Failure(now.Add(2*time.Minute + 2*time.Second)) {
			t.Fatalf("third rapid failure should open the breaker")
		}
	})
}

func TestRegistryCandidates(t *testing.T) {
	reg := NewRegistry(nil)

	email := &fakeProvider{id: "email", priority: 10, channels: []entity.Channel{entity.ChannelEmail}}
	sms := &fakeProvider{id: "sms", priority: 10, channels: []entity.Channel{entity.ChannelSMS}}
	reg.Register(email)
	reg.Register(sms)

	got := reg.Candidates(entity.ChannelEmail)
	if len(got) != 1 || got[0].ID() != "email" {
		t.Fatalf("candidates = %v, want only the email provider", got)
	}

	// Re-registering the same ID replaces the entry.
	reg.Register(&fakeProvider{id: "email", priority: 99, channels: []entity.Channel{entity.ChannelEmail}})
	got = reg.Candidates(entity.ChannelEmail)
	if len(got) != 1 || got[0].Priority() != 99 {
		t.Fatalf("candidates = %v, want the replacement provider", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want entity.ErrorKind
	}{
		{&SendError{Kind: entity.ErrorKindQuotaExceeded}, entity.ErrorKindQuotaExceeded},
		{&SendError{Kind: entity.ErrorKindTimeout}, entity.ErrorKindTimeout},
		{context.DeadlineExceeded, entity.ErrorKindTimeout},
		{errors.New("dial tcp: refused"), entity.ErrorKindNetwork},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
