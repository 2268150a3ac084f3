package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/delivery"
	"github.com/arvikon/otpgate/internal/pkg/clock"
	"github.com/arvikon/otpgate/internal/pkg/config"
	"github.com/arvikon/otpgate/internal/pkg/goroutine"
	"github.com/arvikon/otpgate/internal/pkg/hash"
	"github.com/arvikon/otpgate/internal/pkg/idempotency"
	"github.com/arvikon/otpgate/internal/pkg/instrument"
	"github.com/arvikon/otpgate/internal/pkg/jwt"
	"github.com/arvikon/otpgate/internal/pkg/mfa"
	"github.com/arvikon/otpgate/internal/pkg/otp"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
	"github.com/arvikon/otpgate/internal/pkg/storage"
	"github.com/arvikon/otpgate/internal/pkg/uid"
	"github.com/arvikon/otpgate/internal/pkg/validator"
	"github.com/arvikon/otpgate/internal/risk"
	"github.com/arvikon/otpgate/internal/stepup"
)

// ChallengeAuditEvent is published for every lifecycle transition.
type ChallengeAuditEvent struct {
	Event       string
	ChallengeID string
	Identifier  string
	Purpose     string
	Channel     string
	State       string
	ProviderID  string
	OccurredAt  time.Time
}

// RiskAuditEvent carries the full factor breakdown of one evaluation.
type RiskAuditEvent struct {
	Identifier  string
	IP          string
	Fingerprint string
	Score       float64
	Decision    string
	Factors     map[string]float64
	OccurredAt  time.Time
}

type repoDB interface {
	Issue(ctx context.Context, ch entity.Challenge) (int64, error)
	GetByID(ctx context.Context, id string) (entity.Challenge, error)
	GetPending(ctx context.Context, identifier string, purpose entity.Purpose) (entity.Challenge, error)
	MarkExpired(ctx context.Context, rowID int64) error
	RecordFailedAttempt(ctx context.Context, rowID int64) (int16, entity.State, error)
	Consume(ctx context.Context, rowID int64) error
	SweepExpired(ctx context.Context, now time.Time, limit int32) (int64, error)
	TerminalBefore(ctx context.Context, cutoff time.Time, limit int32) ([]entity.Challenge, error)
	AttemptsFor(ctx context.Context, challengeRowIDs []int64) ([]entity.DeliveryAttempt, error)
	DeleteChallenges(ctx context.Context, rowIDs []int64) error
	ReplaceBackupCodes(ctx context.Context, subject string, codes []stepup.StoredBackupCode, issuedAt time.Time) error
}

type repoAudit interface {
	PublishChallengeAudit(ctx context.Context, msg ChallengeAuditEvent) error
	PublishRiskAudit(ctx context.Context, msg RiskAuditEvent) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, challengeRowID int64, ch entity.Channel, msg delivery.Message) (delivery.Receipt, error)
}

type riskEngine interface {
	Evaluate(ctx context.Context, sig risk.Signal) risk.Assessment
}

type riskHistory interface {
	Record(ctx context.Context, identifier string, sig risk.Signal) error
}

type limiter interface {
	Allow(ctx context.Context, key string, action ratelimit.Action, limit ratelimit.Limit) (ratelimit.Decision, error)
	Reset(ctx context.Context, key string, action ratelimit.Action) error
}

type globalGuard interface {
	Allow() bool
}

type verifierRegistry interface {
	Get(factor string) (stepup.Verifier, error)
	Factors() []string
}

// SubjectChecker answers whether an identifier belongs to a known subject.
// The host system provides the implementation.
type SubjectChecker interface {
	Exists(ctx context.Context, identifier string) (bool, error)
}

type Usecase struct {
	repoDB     repoDB
	repoAudit  repoAudit
	dispatcher dispatcher
	riskEngine riskEngine
	riskHist   riskHistory
	limiter    limiter
	guard      globalGuard
	verifiers  verifierRegistry
	subjects   SubjectChecker
	idemp      idempotency.Idempotency
	validator  validator.Validator
	cfg        config.Config
	storage    storage.Storage
	hmac       hash.Hash
	backupGen  mfa.BackupCodeGenerator
	backupHash hash.Hash
	codeGen    otp.CodeGenerator
	uid        uid.NumberID
	uuid       uid.StringID
	clock      clock.Clocker
	jwt        jwt.JWT
	ins        instrument.Instrumentation
	goroutine  *goroutine.Manager
}

type Dependency struct {
	RepoDB      repoDB
	RepoAudit   repoAudit
	Dispatcher  dispatcher
	RiskEngine  riskEngine
	RiskHistory riskHistory
	Limiter     limiter
	Guard       globalGuard
	Verifiers   verifierRegistry
	Subjects    SubjectChecker
	Idempotency idempotency.Idempotency
	Validator   validator.Validator
	Config      config.Config
	Storage     storage.Storage
	HMAC        hash.Hash
	BackupGen   mfa.BackupCodeGenerator
	BackupHash  hash.Hash
	CodeGen     otp.CodeGenerator
	UID         uid.NumberID
	UUID        uid.StringID
	Clock       clock.Clocker
	JWT         jwt.JWT
	Instrument  instrument.Instrumentation
	Goroutine   *goroutine.Manager
}

func New(dep Dependency) *Usecase {
	return &Usecase{
		repoDB:     dep.RepoDB,
		repoAudit:  dep.RepoAudit,
		dispatcher: dep.Dispatcher,
		riskEngine: dep.RiskEngine,
		riskHist:   dep.RiskHistory,
		limiter:    dep.Limiter,
		guard:      dep.Guard,
		verifiers:  dep.Verifiers,
		subjects:   dep.Subjects,
		idemp:      dep.Idempotency,
		validator:  dep.Validator,
		cfg:        dep.Config,
		storage:    dep.Storage,
		hmac:       dep.HMAC,
		backupGen:  dep.BackupGen,
		backupHash: dep.BackupHash,
		codeGen:    dep.CodeGen,
		uid:        dep.UID,
		uuid:       dep.UUID,
		clock:      dep.Clock,
		jwt:        dep.JWT,
		ins:        dep.Instrument,
		goroutine:  dep.Goroutine,
	}
}

func (s *Usecase) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.ins.Tracer("challenge.usecase").Start(ctx, name)
}

func (s *Usecase) publishAudit(ctx context.Context, ev ChallengeAuditEvent) {
	s.goroutine.Go(ctx, func(ctx context.Context) error {
		return s.repoAudit.PublishChallengeAudit(ctx, ev)
	})
}
