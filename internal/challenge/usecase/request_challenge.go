package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/delivery"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/otp"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
	"github.com/arvikon/otpgate/internal/pkg/valueobject"
	"github.com/arvikon/otpgate/internal/risk"
)

const metadataKeyStepUp = "step_up_required"

type RequestChallengeInput struct {
	Identifier  string `validate:"required,identifier"`
	Purpose     string `validate:"required,max=64"`
	Channel     string `validate:"required"`
	IP          string `validate:"required,ip"`
	Fingerprint string `validate:"max=128"`
	Locale      string `validate:"max=16"`
	Latitude    *float64
	Longitude   *float64
}

type RequestChallengeOutput struct {
	ChallengeID    string
	ExpiresAt      time.Time
	StepUpRequired bool
	ProviderID     string
}

func (s *Usecase) RequestChallenge(ctx context.Context, in RequestChallengeInput) (*RequestChallengeOutput, error) {
	ctx, span := s.startSpan(ctx, "RequestChallenge")
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, goerror.NewInvalidInput(err)
	}

	channel := entity.ParseChannel(in.Channel)
	if channel.IsUnknown() {
		return nil, goerror.NewInvalidInput(nil, "channel", "unsupported delivery channel")
	}
	if !s.channelEnabled(channel) {
		return nil, goerror.NewInvalidInput(nil, "channel", "delivery channel is not enabled")
	}
	purpose := entity.Purpose(in.Purpose)

	if !s.guard.Allow() {
		slog.WarnContext(ctx, "global issuance guard rejected request")
		return nil, goerror.NewRetryable("system is busy", goerror.CodeTooManyRequest, time.Minute)
	}

	if err := s.enforceLimit(ctx, "id:"+in.Identifier, ratelimit.ActionIssue, "rate_limits.issue_per_identifier"); err != nil {
		return nil, err
	}
	if err := s.enforceLimit(ctx, "ip:"+in.IP, ratelimit.ActionIssue, "rate_limits.issue_per_ip"); err != nil {
		return nil, err
	}

	sig := risk.Signal{Identifier: in.Identifier, IP: in.IP, Fingerprint: in.Fingerprint}
	if in.Latitude != nil && in.Longitude != nil {
		sig.Location = &risk.Location{Latitude: *in.Latitude, Longitude: *in.Longitude}
	}

	assessment := s.riskEngine.Evaluate(ctx, sig)
	s.goroutine.Go(ctx, func(ctx context.Context) error {
		return s.repoAudit.PublishRiskAudit(ctx, RiskAuditEvent{
			Identifier:  in.Identifier,
			IP:          in.IP,
			Fingerprint: in.Fingerprint,
			Score:       assessment.Score,
			Decision:    assessment.Decision.String(),
			Factors:     assessment.Factors,
			OccurredAt:  s.clock.Now(),
		})
	})
	if assessment.Decision == risk.DecisionDeny {
		slog.WarnContext(ctx, "risk engine denied challenge request", "identifier", in.Identifier)
		return nil, goerror.NewBusiness("request refused", goerror.CodeForbidden)
	}

	exists, err := s.subjects.Exists(ctx, in.Identifier)
	if err != nil {
		slog.ErrorContext(ctx, "failed to check subject", "identifier", in.Identifier, "error", err)
		return nil, goerror.NewServer(err)
	}
	if !exists {
		slog.WarnContext(ctx, "challenge requested for unknown subject", "identifier", in.Identifier)
		return nil, goerror.NewBusiness("unknown identifier", goerror.CodeNotFound)
	}

	stepUp := assessment.Decision == risk.DecisionChallenge
	ch, code, err := s.issue(ctx, in.Identifier, purpose, channel, 0, stepUp)
	if err != nil {
		return nil, err
	}

	providerID, err := s.dispatch(ctx, ch, code, in.Locale)
	if err != nil {
		return nil, err
	}

	s.publishAudit(ctx, ChallengeAuditEvent{
		Event:       "challenge_issued",
		ChallengeID: ch.ID,
		Identifier:  ch.Identifier,
		Purpose:     ch.Purpose.String(),
		Channel:     ch.Channel.String(),
		State:       ch.State.String(),
		ProviderID:  providerID,
		OccurredAt:  s.clock.Now(),
	})

	return &RequestChallengeOutput{
		ChallengeID:    ch.ID,
		ExpiresAt:      ch.ExpiresAt,
		StepUpRequired: stepUp,
		ProviderID:     providerID,
	}, nil
}

// channelEnabled checks the delivery.enabled_channels allowlist. An empty
// list leaves every recognized channel open.
func (s *Usecase) channelEnabled(channel entity.Channel) bool {
	enabled := s.cfg.GetArray("delivery.enabled_channels")
	if len(enabled) == 0 {
		return true
	}
	for _, name := range enabled {
		if entity.ParseChannel(name) == channel {
			return true
		}
	}
	return false
}

// issue generates fresh code material and persists the challenge, making it
// the single pending row for its slot.
func (s *Usecase) issue(ctx context.Context, identifier string, purpose entity.Purpose,
	channel entity.Channel, resendCount int16, stepUp bool,
) (entity.Challenge, string, error) {
	length := s.cfg.GetInt("otp.length")
	if length == 0 {
		length = 6
	}

	code, err := s.codeGen.GenerateCode(length, otp.CharsetFromString(s.cfg.GetString("otp.charset")))
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate code", "error", err)
		return entity.Challenge{}, "", goerror.NewServer(err)
	}

	salt, err := s.codeGen.GenerateToken()
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate salt", "error", err)
		return entity.Challenge{}, "", goerror.NewServer(err)
	}

	codeHash, err := s.hmac.Hash(salt + ":" + code)
	if err != nil {
		slog.ErrorContext(ctx, "failed to hash code", "error", err)
		return entity.Challenge{}, "", goerror.NewServer(err)
	}

	handle, err := s.codeGen.GenerateToken()
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate challenge handle", "error", err)
		return entity.Challenge{}, "", goerror.NewServer(err)
	}

	now := s.clock.Now()
	ch := entity.Challenge{
		RowID:       s.uid.Generate(),
		ID:          handle,
		Identifier:  identifier,
		Purpose:     purpose,
		Channel:     channel,
		State:       entity.StatePending,
		CodeHash:    codeHash,
		CodeSalt:    []byte(salt),
		MaxAttempts: int16(s.cfg.GetInt("otp.max_attempts")),
		ResendCount: resendCount,
		CooldownAt:  now.Add(s.cfg.GetSecond("otp.resend_cooldown_seconds")),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.GetSecond("otp.ttl_seconds")),
		LastSentAt:  now,
		Metadata:    valueobject.JSONMap{metadataKeyStepUp: stepUp},
	}

	rowID, err := s.repoDB.Issue(ctx, ch)
	if err != nil {
		slog.ErrorContext(ctx, "failed to persist challenge", "identifier", identifier, "error", err)
		return entity.Challenge{}, "", goerror.NewServer(err)
	}
	ch.RowID = rowID

	return ch, code, nil
}

// dispatch delivers the plaintext code. A delivery failure leaves the
// pending row in place so the client can resend.
func (s *Usecase) dispatch(ctx context.Context, ch entity.Challenge, code, locale string) (string, error) {
	timeout := s.cfg.GetSecond("delivery.dispatch_timeout_seconds")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := s.dispatcher.Dispatch(dCtx, ch.RowID, ch.Channel, delivery.Message{
		Recipient: ch.Identifier,
		Code:      code,
		Purpose:   ch.Purpose.String(),
		TTL:       ch.ExpiresAt.Sub(ch.CreatedAt),
		Locale:    locale,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to dispatch challenge code",
			"challenge_id", ch.ID, "channel", ch.Channel.String(), "error", err)

		s.publishAudit(ctx, ChallengeAuditEvent{
			Event:       "challenge_delivery_failed",
			ChallengeID: ch.ID,
			Identifier:  ch.Identifier,
			Purpose:     ch.Purpose.String(),
			Channel:     ch.Channel.String(),
			State:       ch.State.String(),
			OccurredAt:  s.clock.Now(),
		})

		switch {
		case errors.Is(err, delivery.ErrDeadline):
			return "", goerror.NewBusiness("delivery timed out", goerror.CodeTimeout)
		case errors.Is(err, delivery.ErrNoProvider):
			return "", goerror.NewBusiness("channel unavailable", goerror.CodeDeliveryFailed)
		default:
			return "", goerror.NewBusiness("delivery failed", goerror.CodeDeliveryFailed)
		}
	}

	return receipt.ProviderID, nil
}
