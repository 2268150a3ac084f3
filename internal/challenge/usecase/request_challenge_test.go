package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/delivery"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
	"github.com/arvikon/otpgate/internal/risk"
)

func requestInput() RequestChallengeInput {
	return RequestChallengeInput{
		Identifier: "user@example.com",
		Purpose:    "login",
		Channel:    "email",
		IP:         "203.0.113.10",
	}
}

func TestRequestChallenge(t *testing.T) {
	t.Run("HappyPath", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		out, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.ChallengeID != "token-2" {
			t.Errorf("expected handle token-2, got %q", out.ChallengeID)
		}
		if out.StepUpRequired {
			t.Error("expected no step-up for an allow decision")
		}
		if out.ProviderID != "email-smtp" {
			t.Errorf("expected provider email-smtp, got %q", out.ProviderID)
		}
		if want := e.clock.Now().Add(5 * time.Minute); !out.ExpiresAt.Equal(want) {
			t.Errorf("expected expiry %v, got %v", want, out.ExpiresAt)
		}

		if len(e.repo.issued) != 1 {
			t.Fatalf("expected 1 persisted challenge, got %d", len(e.repo.issued))
		}
		ch := e.repo.issued[0]
		if ch.State != entity.StatePending || ch.MaxAttempts != 3 || ch.ResendCount != 0 {
			t.Errorf("unexpected challenge row %+v", ch)
		}
		if !e.hmac.Verify(string(ch.CodeHash), string(ch.CodeSalt)+":424242") {
			t.Error("expected stored hash to match salt:code")
		}
		if ch.Metadata.GetBool("step_up_required") {
			t.Error("expected step_up_required false in metadata")
		}

		if e.disp.lastMsg.Recipient != "user@example.com" || e.disp.lastMsg.Code != "424242" {
			t.Errorf("unexpected dispatched message %+v", e.disp.lastMsg)
		}
		if e.disp.lastMsg.TTL != 5*time.Minute {
			t.Errorf("expected message TTL 5m, got %v", e.disp.lastMsg.TTL)
		}

		e.flush(t)
		if len(e.audit.riskEvents) != 1 {
			t.Errorf("expected 1 risk audit event, got %d", len(e.audit.riskEvents))
		}
		if names := e.audit.eventNames(); len(names) != 1 || names[0] != "challenge_issued" {
			t.Errorf("expected challenge_issued audit, got %v", names)
		}
	})

	t.Run("SupersedesPriorPending", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		first, err := e.uc.RequestChallenge(context.Background(), requestInput())
		if err != nil {
			t.Fatalf("first issue failed: %v", err)
		}

		// Act
		second, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		if err != nil {
			t.Fatalf("second issue failed: %v", err)
		}
		if first.ChallengeID == second.ChallengeID {
			t.Fatalf("reissue must mint a fresh handle")
		}

		cur, ok := e.repo.pending[pendingKey("user@example.com", entity.Purpose("login"))]
		if !ok || cur.ID != second.ChallengeID {
			t.Fatalf("pending slot = %+v, want the second challenge only", cur)
		}
		if prior := e.repo.byID[first.ChallengeID]; prior.State != entity.StateExpired {
			t.Fatalf("prior state = %v, want expired once superseded", prior.State)
		}
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		in := requestInput()
		in.Channel = "pigeon"

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), in)

		// Assert
		assertCode(t, err, goerror.CodeInvalidInput)
	})

	t.Run("ChannelNotEnabled", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.cfg.values["delivery.enabled_channels"] = []string{"sms", "voice"}

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		assertCode(t, err, goerror.CodeInvalidInput)
		if len(e.repo.issued) != 0 {
			t.Fatalf("issued = %d, disabled channel must be rejected before persisting", len(e.repo.issued))
		}
		if e.disp.calls != 0 {
			t.Fatalf("dispatch calls = %d, want none", e.disp.calls)
		}
	})

	t.Run("MissingIdentifier", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		in := requestInput()
		in.Identifier = ""

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), in)

		// Assert
		assertCode(t, err, goerror.CodeInvalidInput)
	})

	t.Run("GlobalGuardBusy", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.guard.allow = false

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		ge := assertCode(t, err, goerror.CodeTooManyRequest)
		if ge.RetryAfter() != time.Minute {
			t.Errorf("expected 1m retry hint, got %v", ge.RetryAfter())
		}
		if len(e.repo.issued) != 0 {
			t.Error("expected no challenge issued")
		}
	})

	t.Run("IdentifierRateLimited", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.limiter.decisions[ratelimit.ActionIssue] = ratelimit.Decision{Allowed: false, RetryAfter: 42 * time.Second}

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		ge := assertCode(t, err, goerror.CodeTooManyRequest)
		if ge.RetryAfter() != 42*time.Second {
			t.Errorf("expected 42s retry hint, got %v", ge.RetryAfter())
		}
	})

	t.Run("LimiterDownFailOpen", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.limiter.err = ratelimit.ErrRedisUnavailable
		e.cfg.values["rate_limits.fail_open"] = true

		// Act
		out, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		if err != nil {
			t.Fatalf("expected fail-open issuance, got %v", err)
		}
		if out.ChallengeID == "" {
			t.Error("expected a challenge handle")
		}
	})

	t.Run("LimiterDownFailClosed", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.limiter.err = ratelimit.ErrRedisUnavailable

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		assertCode(t, err, goerror.CodeInternal)
	})

	t.Run("RiskDeny", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.riskEng.assessment = risk.Assessment{
			Decision: risk.DecisionDeny,
			Score:    0.95,
			Factors:  map[string]float64{"blocklist": 1},
		}

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		assertCode(t, err, goerror.CodeForbidden)
		if len(e.repo.issued) != 0 {
			t.Error("expected no challenge issued")
		}

		e.flush(t)
		if len(e.audit.riskEvents) != 1 || e.audit.riskEvents[0].Decision != "deny" {
			t.Errorf("expected deny risk audit, got %+v", e.audit.riskEvents)
		}
	})

	t.Run("RiskChallengeRequiresStepUp", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.riskEng.assessment = risk.Assessment{Decision: risk.DecisionChallenge, Score: 0.5}

		// Act
		out, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !out.StepUpRequired {
			t.Error("expected step-up to be flagged")
		}
		if !e.repo.issued[0].Metadata.GetBool("step_up_required") {
			t.Error("expected step_up_required recorded in metadata")
		}
	})

	t.Run("UnknownSubject", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.subjects.exists = false

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		assertCode(t, err, goerror.CodeNotFound)
	})

	t.Run("SubjectCheckFailure", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.subjects.err = context.DeadlineExceeded

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		assertCode(t, err, goerror.CodeInternal)
	})

	t.Run("NoProviderForChannel", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.disp.err = delivery.ErrNoProvider

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		assertCode(t, err, goerror.CodeDeliveryFailed)

		e.flush(t)
		if names := e.audit.eventNames(); len(names) != 1 || names[0] != "challenge_delivery_failed" {
			t.Errorf("expected delivery failure audit, got %v", names)
		}
	})

	t.Run("DispatchDeadline", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.disp.err = delivery.ErrDeadline

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		assertCode(t, err, goerror.CodeTimeout)
	})

	t.Run("AllProvidersFailed", func(t *testing.T) {
		// Arrange
		e := newEnv(t)
		e.disp.err = delivery.ErrAllFailed

		// Act
		_, err := e.uc.RequestChallenge(context.Background(), requestInput())

		// Assert
		assertCode(t, err, goerror.CodeDeliveryFailed)
	})
}
