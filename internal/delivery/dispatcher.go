package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/pkg/clock"
	"github.com/arvikon/otpgate/internal/pkg/uid"
)

var (
	// ErrNoProvider means no registered provider serves the channel.
	ErrNoProvider = errors.New("delivery: no provider for channel")
	// ErrAllFailed means every candidate provider failed or was skipped.
	ErrAllFailed = errors.New("delivery: all providers failed")
	// ErrDeadline means the overall dispatch deadline expired before any
	// provider accepted the message.
	ErrDeadline = errors.New("delivery: dispatch deadline exceeded")
)

// AttemptRecorder persists one delivery attempt row. Recording failures do
// not abort the dispatch.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, att entity.DeliveryAttempt) error
}

// Dispatcher walks a channel's providers in priority order until one
// accepts the message. Per-provider calls get their own timeout; network
// faults are retried with fibonacci backoff before falling through to the
// next candidate.
type Dispatcher struct {
	registry    *Registry
	recorder    AttemptRecorder
	ids         uid.NumberID
	clock       clock.Clocker
	callTimeout time.Duration
	maxRetries  uint64
	retryBase   time.Duration
}

// DispatcherConfig holds the knobs for a Dispatcher.
type DispatcherConfig struct {
	Registry    *Registry
	Recorder    AttemptRecorder
	IDs         uid.NumberID
	Clock       clock.Clocker
	CallTimeout time.Duration
	MaxRetries  uint64
	RetryBase   time.Duration
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}

	return &Dispatcher{
		registry:    cfg.Registry,
		recorder:    cfg.Recorder,
		ids:         cfg.IDs,
		clock:       cfg.Clock,
		callTimeout: cfg.CallTimeout,
		maxRetries:  cfg.MaxRetries,
		retryBase:   cfg.RetryBase,
	}
}

// Dispatch delivers msg over ch and returns the receipt from the provider
// that accepted it.
func (d *Dispatcher) Dispatch(ctx context.Context, challengeRowID int64, ch entity.Channel, msg Message) (Receipt, error) {
	candidates := d.registry.Candidates(ch)
	if len(candidates) == 0 {
		return Receipt{}, ErrNoProvider
	}

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return Receipt{}, ErrDeadline
		}

		br := d.registry.BreakerFor(p.ID())
		if br != nil && !br.Allow(d.clock.Now()) {
			slog.WarnContext(ctx, "skipping provider with open breaker",
				"provider", p.ID(), "channel", ch.String())
			continue
		}

		start := d.clock.Now()
		receipt, err := d.send(ctx, p, msg)
		elapsed := d.clock.Now().Sub(start)

		if err == nil {
			if br != nil {
				br.Success()
			}
			receipt.ProviderID = p.ID()
			d.record(ctx, challengeRowID, p, ch, entity.AttemptStatusSent, entity.ErrorKindNone, receipt.VendorMessageID, elapsed)
			return receipt, nil
		}

		kind := Classify(err)
		if br != nil && br.Failure(d.clock.Now()) {
			slog.WarnContext(ctx, "provider breaker opened", "provider", p.ID())
		}
		d.record(ctx, challengeRowID, p, ch, entity.AttemptStatusFailed, kind, err.Error(), elapsed)

		slog.WarnContext(ctx, "provider delivery failed, trying next candidate",
			"provider", p.ID(), "channel", ch.String(), "kind", kind.String(), "error", err)
	}

	if err := ctx.Err(); err != nil {
		return Receipt{}, ErrDeadline
	}
	return Receipt{}, ErrAllFailed
}

// send runs one provider call under the per-provider timeout, retrying
// network faults in place.
func (d *Dispatcher) send(ctx context.Context, p Provider, msg Message) (Receipt, error) {
	backoff := retry.WithMaxRetries(d.maxRetries, retry.NewFibonacci(d.retryBase))

	var receipt Receipt
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		defer cancel()

		r, err := p.Send(callCtx, msg)
		if err == nil {
			receipt = r
			return nil
		}
		if Classify(err) == entity.ErrorKindNetwork {
			return retry.RetryableError(err)
		}
		return err
	})
	return receipt, err
}

func (d *Dispatcher) record(ctx context.Context, challengeRowID int64, p Provider, ch entity.Channel,
	status entity.AttemptStatus, kind entity.ErrorKind, detail string, elapsed time.Duration,
) {
	if d.recorder == nil {
		return
	}

	att := entity.DeliveryAttempt{
		RowID:          d.ids.Generate(),
		ChallengeRowID: challengeRowID,
		ProviderID:     p.ID(),
		Channel:        ch,
		Status:         status,
		ErrorKind:      kind,
		Detail:         detail,
		Elapsed:        elapsed,
		CreatedAt:      d.clock.Now(),
	}
	if err := d.recorder.RecordAttempt(ctx, att); err != nil {
		slog.ErrorContext(ctx, "failed to record delivery attempt",
			"provider", p.ID(), "error", err)
	}
}
