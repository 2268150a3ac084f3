package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/arvikon/otpgate/internal/challenge/entity"
	"github.com/arvikon/otpgate/internal/delivery"
	"github.com/arvikon/otpgate/internal/pkg/goerror"
	"github.com/arvikon/otpgate/internal/pkg/goroutine"
	"github.com/arvikon/otpgate/internal/pkg/hash"
	"github.com/arvikon/otpgate/internal/pkg/idempotency"
	"github.com/arvikon/otpgate/internal/pkg/instrument"
	"github.com/arvikon/otpgate/internal/pkg/jwt"
	"github.com/arvikon/otpgate/internal/pkg/mfa"
	"github.com/arvikon/otpgate/internal/pkg/otp"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
	"github.com/arvikon/otpgate/internal/pkg/storage"
	"github.com/arvikon/otpgate/internal/pkg/validator"
	"github.com/arvikon/otpgate/internal/risk"
	"github.com/arvikon/otpgate/internal/stepup"
)

// fakeConfig serves test values from a plain map. Durations are stored as
// ints in the unit the getter implies.
type fakeConfig struct {
	values map[string]any
}

func (f fakeConfig) duration(key string, unit time.Duration) time.Duration {
	if v, ok := f.values[key].(int); ok {
		return time.Duration(v) * unit
	}
	return 0
}

func (f fakeConfig) GetSecond(key string) time.Duration { return f.duration(key, time.Second) }
func (f fakeConfig) GetMinute(key string) time.Duration { return f.duration(key, time.Minute) }
func (f fakeConfig) GetHour(key string) time.Duration   { return f.duration(key, time.Hour) }
func (f fakeConfig) GetDay(key string) time.Duration    { return f.duration(key, 24*time.Hour) }

func (f fakeConfig) GetInt(key string) int {
	v, _ := f.values[key].(int)
	return v
}
func (f fakeConfig) GetInt32(key string) int32 { return int32(f.GetInt(key)) }
func (f fakeConfig) GetInt64(key string) int64 { return int64(f.GetInt(key)) }
func (f fakeConfig) GetUint(key string) uint   { return uint(f.GetInt(key)) }

func (f fakeConfig) GetBool(key string) bool {
	v, _ := f.values[key].(bool)
	return v
}

func (f fakeConfig) GetFloat64(key string) float64 {
	v, _ := f.values[key].(float64)
	return v
}

func (f fakeConfig) GetString(key string) string {
	v, _ := f.values[key].(string)
	return v
}

func (f fakeConfig) GetBinary(key string) []byte {
	v, _ := f.values[key].([]byte)
	return v
}

func (f fakeConfig) GetArray(key string) []string {
	v, _ := f.values[key].([]string)
	return v
}

func (f fakeConfig) GetMap(key string) map[string]string {
	v, _ := f.values[key].(map[string]string)
	return v
}

func (f fakeConfig) Close() error { return nil }

type fakeRepoDB struct {
	mu sync.Mutex

	issued    []entity.Challenge
	issueErr  error
	nextRowID int64

	byID     map[string]entity.Challenge
	getErr   error
	pending  map[string]entity.Challenge
	expired  []int64
	consumed []int64

	failedAttempts int16
	failedState    entity.State
	failedErr      error
	consumeErr     error

	sweepCounts []int64
	sweepErr    error

	terminal  [][]entity.Challenge
	attempts  []entity.DeliveryAttempt
	deleted   [][]int64
	deleteErr error

	backupSubject string
	backupCodes   []stepup.StoredBackupCode
	backupErr     error
}

func pendingKey(identifier string, purpose entity.Purpose) string {
	return identifier + "|" + purpose.String()
}

func (f *fakeRepoDB) Issue(_ context.Context, ch entity.Challenge) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.issueErr != nil {
		return 0, f.issueErr
	}
	f.issued = append(f.issued, ch)
	if f.nextRowID == 0 {
		f.nextRowID = 100
	}
	f.nextRowID++

	// a fresh issue takes over the slot, expiring any prior pending row
	key := pendingKey(ch.Identifier, ch.Purpose)
	if prior, ok := f.pending[key]; ok {
		prior.State = entity.StateExpired
		f.byID[prior.ID] = prior
	}
	ch.RowID = f.nextRowID
	f.pending[key] = ch
	f.byID[ch.ID] = ch

	return f.nextRowID, nil
}

func (f *fakeRepoDB) GetByID(_ context.Context, id string) (entity.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return entity.Challenge{}, f.getErr
	}
	ch, ok := f.byID[id]
	if !ok {
		return entity.Challenge{}, goerror.ErrNotFound
	}
	return ch, nil
}

func (f *fakeRepoDB) GetPending(_ context.Context, identifier string, purpose entity.Purpose) (entity.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.pending[pendingKey(identifier, purpose)]
	if !ok {
		return entity.Challenge{}, goerror.ErrNotFound
	}
	return ch, nil
}

func (f *fakeRepoDB) MarkExpired(_ context.Context, rowID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, rowID)
	return nil
}

func (f *fakeRepoDB) RecordFailedAttempt(_ context.Context, _ int64) (int16, entity.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failedAttempts, f.failedState, f.failedErr
}

func (f *fakeRepoDB) Consume(_ context.Context, rowID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.consumeErr != nil {
		return f.consumeErr
	}
	f.consumed = append(f.consumed, rowID)
	return nil
}

func (f *fakeRepoDB) SweepExpired(_ context.Context, _ time.Time, _ int32) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sweepErr != nil {
		return 0, f.sweepErr
	}
	if len(f.sweepCounts) == 0 {
		return 0, nil
	}
	n := f.sweepCounts[0]
	f.sweepCounts = f.sweepCounts[1:]
	return n, nil
}

func (f *fakeRepoDB) TerminalBefore(_ context.Context, _ time.Time, _ int32) ([]entity.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.terminal) == 0 {
		return nil, nil
	}
	batch := f.terminal[0]
	f.terminal = f.terminal[1:]
	return batch, nil
}

func (f *fakeRepoDB) AttemptsFor(_ context.Context, _ []int64) ([]entity.DeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts, nil
}

func (f *fakeRepoDB) DeleteChallenges(_ context.Context, rowIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, rowIDs)
	return nil
}

func (f *fakeRepoDB) ReplaceBackupCodes(_ context.Context, subject string, codes []stepup.StoredBackupCode, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.backupErr != nil {
		return f.backupErr
	}
	f.backupSubject = subject
	f.backupCodes = codes
	return nil
}

type fakeAudit struct {
	mu              sync.Mutex
	challengeEvents []ChallengeAuditEvent
	riskEvents      []RiskAuditEvent
}

func (f *fakeAudit) PublishChallengeAudit(_ context.Context, msg ChallengeAuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challengeEvents = append(f.challengeEvents, msg)
	return nil
}

func (f *fakeAudit) PublishRiskAudit(_ context.Context, msg RiskAuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskEvents = append(f.riskEvents, msg)
	return nil
}

func (f *fakeAudit) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.challengeEvents))
	for _, ev := range f.challengeEvents {
		names = append(names, ev.Event)
	}
	return names
}

type fakeDispatcher struct {
	mu      sync.Mutex
	receipt delivery.Receipt
	err     error

	calls     int
	lastRowID int64
	lastCh    entity.Channel
	lastMsg   delivery.Message
}

func (f *fakeDispatcher) Dispatch(_ context.Context, rowID int64, ch entity.Channel, msg delivery.Message) (delivery.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.lastRowID = rowID
	f.lastCh = ch
	f.lastMsg = msg
	if f.err != nil {
		return delivery.Receipt{}, f.err
	}
	return f.receipt, nil
}

type fakeRiskEngine struct {
	assessment risk.Assessment
}

func (f *fakeRiskEngine) Evaluate(_ context.Context, _ risk.Signal) risk.Assessment {
	return f.assessment
}

type fakeRiskHistory struct {
	mu       sync.Mutex
	recorded []risk.Signal
}

func (f *fakeRiskHistory) Record(_ context.Context, _ string, sig risk.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, sig)
	return nil
}

type fakeLimiter struct {
	mu        sync.Mutex
	decisions map[ratelimit.Action]ratelimit.Decision
	err       error
	allows    []string
	resets    []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, action ratelimit.Action, _ ratelimit.Limit) (ratelimit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.allows = append(f.allows, string(action)+":"+key)
	if f.err != nil {
		return ratelimit.Decision{}, f.err
	}
	if dec, ok := f.decisions[action]; ok {
		return dec, nil
	}
	return ratelimit.Decision{Allowed: true}, nil
}

func (f *fakeLimiter) Reset(_ context.Context, key string, action ratelimit.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, string(action)+":"+key)
	return nil
}

type fakeGuard struct {
	allow bool
}

func (f *fakeGuard) Allow() bool { return f.allow }

type fakeVerifierRegistry struct {
	verifiers map[string]stepup.Verifier
}

func (f *fakeVerifierRegistry) Get(factor string) (stepup.Verifier, error) {
	v, ok := f.verifiers[factor]
	if !ok {
		return nil, stepup.ErrFactorNotEnabled
	}
	return v, nil
}

func (f *fakeVerifierRegistry) Factors() []string {
	keys := make([]string, 0, len(f.verifiers))
	for k := range f.verifiers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type fakeVerifier struct {
	factor     string
	err        error
	gotSubject string
	gotProof   string
}

func (f *fakeVerifier) Factor() string { return f.factor }

func (f *fakeVerifier) Verify(_ context.Context, subject, proof string) error {
	f.gotSubject = subject
	f.gotProof = proof
	return f.err
}

type fakeWebAuthnVerifier struct {
	fakeVerifier
	options  *protocol.CredentialAssertion
	beginErr error
}

func (f *fakeWebAuthnVerifier) Begin(_ context.Context, subject string) (*protocol.CredentialAssertion, error) {
	f.gotSubject = subject
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.options, nil
}

type fakeSubjects struct {
	exists bool
	err    error
}

func (f *fakeSubjects) Exists(_ context.Context, _ string) (bool, error) {
	return f.exists, f.err
}

type fakeIdempotency struct {
	mu      sync.Mutex
	keys    []string
	execErr error
}

func (f *fakeIdempotency) Acquire(_ context.Context, _ string, _ time.Duration) (idempotency.State, error) {
	return idempotency.StateNone, nil
}

func (f *fakeIdempotency) MarkCompleted(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

func (f *fakeIdempotency) MarkFailed(_ context.Context, _ string, _ time.Duration) error {
	return nil
}

func (f *fakeIdempotency) Exec(ctx context.Context, key string, fn func(context.Context) error, _ ...idempotency.Option) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	err := f.execErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	return fn(ctx)
}

type storedObject struct {
	bucket      string
	key         string
	contentType string
	data        []byte
}

type fakeStorage struct {
	mu     sync.Mutex
	puts   []storedObject
	putErr error
}

func (f *fakeStorage) PutObject(_ context.Context, bucket, key string, r io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.putErr != nil {
		return storage.ObjectInfo{}, f.putErr
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return storage.ObjectInfo{}, err
	}
	f.puts = append(f.puts, storedObject{bucket: bucket, key: key, contentType: opts.ContentType, data: buf.Bytes()})
	return storage.ObjectInfo{Bucket: bucket, Key: key, Size: int64(buf.Len())}, nil
}

func (f *fakeStorage) GetObject(_ context.Context, _, _ string) (io.ReadCloser, storage.ObjectInfo, error) {
	return nil, storage.ObjectInfo{}, errors.New("not implemented")
}

func (f *fakeStorage) StatObject(_ context.Context, _, _ string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errors.New("not implemented")
}

func (f *fakeStorage) DeleteObject(_ context.Context, _, _ string) error { return nil }

func (f *fakeStorage) ListObjects(_ context.Context, _, _ string, _ storage.ListOptions) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStorage) PresignGet(_ context.Context, _, _ string, _ time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeStorage) Close() error { return nil }

type fakeCodeGen struct {
	mu       sync.Mutex
	code     string
	tokenSeq int
	codeErr  error
}

func (f *fakeCodeGen) GenerateCode(_ int, _ otp.Charset) (string, error) {
	if f.codeErr != nil {
		return "", f.codeErr
	}
	if f.code == "" {
		return "424242", nil
	}
	return f.code, nil
}

func (f *fakeCodeGen) GenerateToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenSeq++
	return fmt.Sprintf("token-%d", f.tokenSeq), nil
}

type fakeNumberID struct {
	mu   sync.Mutex
	next int64
}

func (f *fakeNumberID) Generate() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next
}

type fakeStringID struct {
	mu   sync.Mutex
	next int
}

func (f *fakeStringID) Generate() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return fmt.Sprintf("uuid-%d", f.next)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// env bundles a usecase built entirely on fakes, each test gets its own.
type env struct {
	repo      *fakeRepoDB
	audit     *fakeAudit
	disp      *fakeDispatcher
	riskEng   *fakeRiskEngine
	riskHist  *fakeRiskHistory
	limiter   *fakeLimiter
	guard     *fakeGuard
	verifiers *fakeVerifierRegistry
	subjects  *fakeSubjects
	idemp     *fakeIdempotency
	storage   *fakeStorage
	cfg       fakeConfig
	hmac      hash.Hash
	backup    hash.Hash
	clock     *fakeClock
	jwt       jwt.JWT
	gr        *goroutine.Manager
	uc        *Usecase
}

func newEnv(t *testing.T) *env {
	t.Helper()

	v10, err := validator.NewV10Validator()
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}

	clk := &fakeClock{now: time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)}
	uuid := &fakeStringID{}

	secret := make([]byte, 64)
	for i := range secret {
		secret[i] = 0x42
	}
	signer, err := jwt.NewSymmetricJWT(jwt.Config{
		Secret:    secret,
		Issuer:    "otpgate",
		Audiences: []string{"otpgate"},
		TTL:       5 * time.Minute,
		Clock:     clk,
		UUID:      uuid,
	})
	if err != nil {
		t.Fatalf("failed to build jwt: %v", err)
	}

	e := &env{
		repo:      &fakeRepoDB{byID: make(map[string]entity.Challenge), pending: make(map[string]entity.Challenge)},
		audit:     &fakeAudit{},
		disp:      &fakeDispatcher{receipt: delivery.Receipt{ProviderID: "email-smtp"}},
		riskEng:   &fakeRiskEngine{assessment: risk.Assessment{Decision: risk.DecisionAllow}},
		riskHist:  &fakeRiskHistory{},
		limiter:   &fakeLimiter{decisions: make(map[ratelimit.Action]ratelimit.Decision)},
		guard:     &fakeGuard{allow: true},
		verifiers: &fakeVerifierRegistry{verifiers: make(map[string]stepup.Verifier)},
		subjects:  &fakeSubjects{exists: true},
		idemp:     &fakeIdempotency{},
		storage:   &fakeStorage{},
		hmac:      hash.NewHMACSHA256("test-secret"),
		backup:    hash.NewArgon2id("test-pepper"),
		clock:     clk,
		jwt:       signer,
		gr:        goroutine.NewManager(16),
		cfg: fakeConfig{values: map[string]any{
			"otp.length":                        6,
			"otp.charset":                       "numeric",
			"otp.max_attempts":                  3,
			"otp.resend_cooldown_seconds":       30,
			"otp.ttl_seconds":                   300,
			"otp.max_resends":                   2,
			"delivery.dispatch_timeout_seconds": 5,
			"retention.days":                    30,
			"retention.archive_bucket":          "otp-archive",
		}},
	}

	e.uc = New(Dependency{
		RepoDB:      e.repo,
		RepoAudit:   e.audit,
		Dispatcher:  e.disp,
		RiskEngine:  e.riskEng,
		RiskHistory: e.riskHist,
		Limiter:     e.limiter,
		Guard:       e.guard,
		Verifiers:   e.verifiers,
		Subjects:    e.subjects,
		Idempotency: e.idemp,
		Validator:   v10,
		Config:      e.cfg,
		Storage:     e.storage,
		HMAC:        e.hmac,
		BackupGen:   mfa.NewBackupCode(),
		BackupHash:  e.backup,
		CodeGen:     &fakeCodeGen{},
		UID:         &fakeNumberID{},
		UUID:        uuid,
		Clock:       clk,
		JWT:         signer,
		Instrument:  instrument.NewNoop(),
		Goroutine:   e.gr,
	})

	return e
}

// flush waits for async audit and history publishes scheduled so far.
func (e *env) flush(t *testing.T) {
	t.Helper()
	if err := e.gr.Wait(); err != nil {
		t.Fatalf("background task failed: %v", err)
	}
}

func assertCode(t *testing.T, err error, want goerror.Code) *goerror.Error {
	t.Helper()

	var ge *goerror.Error
	if !errors.As(err, &ge) {
		t.Fatalf("expected *goerror.Error, got %v", err)
	}
	if ge.Code() != want {
		t.Fatalf("expected code %v, got %v (%v)", want, ge.Code(), err)
	}
	return ge
}
