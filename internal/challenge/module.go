package challenge

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/arvikon/otpgate/internal/challenge/inbound"
	"github.com/arvikon/otpgate/internal/challenge/outbound/audit"
	"github.com/arvikon/otpgate/internal/challenge/outbound/db"
	"github.com/arvikon/otpgate/internal/challenge/usecase"
	"github.com/arvikon/otpgate/internal/delivery"
	"github.com/arvikon/otpgate/internal/pkg/clock"
	"github.com/arvikon/otpgate/internal/pkg/config"
	"github.com/arvikon/otpgate/internal/pkg/goroutine"
	"github.com/arvikon/otpgate/internal/pkg/hash"
	"github.com/arvikon/otpgate/internal/pkg/idempotency"
	"github.com/arvikon/otpgate/internal/pkg/instrument"
	"github.com/arvikon/otpgate/internal/pkg/jwt"
	"github.com/arvikon/otpgate/internal/pkg/messaging"
	"github.com/arvikon/otpgate/internal/pkg/mfa"
	"github.com/arvikon/otpgate/internal/pkg/otp"
	"github.com/arvikon/otpgate/internal/pkg/ratelimit"
	"github.com/arvikon/otpgate/internal/pkg/router"
	"github.com/arvikon/otpgate/internal/pkg/storage"
	"github.com/arvikon/otpgate/internal/pkg/uid"
	"github.com/arvikon/otpgate/internal/pkg/validator"
	"github.com/arvikon/otpgate/internal/risk"
	"github.com/arvikon/otpgate/internal/stepup"
)

type Dependency struct {
	Ctx          context.Context
	DBConn       *pgxpool.Pool               `validate:"required"`
	CacheConn    *redis.Client               `validate:"required"`
	Goroutine    *goroutine.Manager          `validate:"required"`
	Router       *router.Router              `validate:"required"`
	Idempotency  idempotency.Idempotency     `validate:"required"`
	Messaging    messaging.Messaging         `validate:"required"`
	Storage      storage.Storage             `validate:"required"`
	Config       config.Config               `validate:"required"`
	Instrument   instrument.Instrumentation  `validate:"required"`
	UID          uid.NumberID                `validate:"required"`
	UUID         uid.StringID                `validate:"required"`
	HMAC         hash.Hash                   `validate:"required"`
	BackupHash   hash.Hash                   `validate:"required"`
	MFAEncryptor mfa.Encryptor               `validate:"required"`
	Clock        clock.Clocker               `validate:"required"`
	Totp         otp.OTP                     `validate:"required"`
	CodeGen      otp.CodeGenerator           `validate:"required"`
	Validator    validator.Validator         `validate:"required"`
	JWT          jwt.JWT                     `validate:"required"`
	Registry     *delivery.Registry          `validate:"required"`
	Subjects     usecase.SubjectChecker      `validate:"required"`
	WebAuthn     *webauthn.WebAuthn
}

func New(dep Dependency) error {
	if err := dep.Validator.Validate(dep); err != nil {
		return err
	}

	dbChallenge := db.NewDB(dep.DBConn, dep.Instrument)
	repoAudit := audit.NewMessaging(dep.Messaging, dep.Instrument)

	dispatcher := delivery.NewDispatcher(delivery.DispatcherConfig{
		Registry:    dep.Registry,
		Recorder:    dbChallenge,
		IDs:         dep.UID,
		Clock:       dep.Clock,
		CallTimeout: dep.Config.GetSecond("delivery.provider_timeout_seconds"),
		MaxRetries:  uint64(dep.Config.GetUint("delivery.max_retries")),
	})

	limiter := ratelimit.NewSlidingWindow(dep.CacheConn, dep.Clock)
	guard := ratelimit.NewGlobalGuard(dep.Config.GetInt("rate_limits.global_per_minute"))

	history := risk.NewRedisHistory(dep.CacheConn, dep.Config.GetDay("risk.history_ttl_days"))
	engine := risk.NewEngine(riskConfig(dep.Config), limiter, history)

	verifiers := stepUpRegistry(dep, dbChallenge)

	uc := usecase.New(usecase.Dependency{
		RepoDB:      dbChallenge,
		RepoAudit:   repoAudit,
		Dispatcher:  dispatcher,
		RiskEngine:  engine,
		RiskHistory: history,
		Limiter:     limiter,
		Guard:       guard,
		Verifiers:   verifiers,
		Subjects:    dep.Subjects,
		Idempotency: dep.Idempotency,
		Validator:   dep.Validator,
		Config:      dep.Config,
		Storage:     dep.Storage,
		HMAC:        dep.HMAC,
		BackupGen:   mfa.NewBackupCode(),
		BackupHash:  dep.BackupHash,
		CodeGen:     dep.CodeGen,
		UID:         dep.UID,
		UUID:        dep.UUID,
		Clock:       dep.Clock,
		JWT:         dep.JWT,
		Instrument:  dep.Instrument,
		Goroutine:   dep.Goroutine,
	})

	inbound.RegisterHTTPEndpoint(dep.Router, uc, dep.JWT, dep.Config)

	if dep.Ctx != nil {
		startMaintenance(dep, uc)
	}

	return nil
}

func riskConfig(cfg config.Config) risk.Config {
	return risk.Config{
		Weights: risk.Weights{
			IPVelocity:         cfg.GetFloat64("risk.weights.ip_velocity"),
			IdentifierVelocity: cfg.GetFloat64("risk.weights.identifier_velocity"),
			GeoDistance:        cfg.GetFloat64("risk.weights.geo_distance"),
			NewFingerprint:     cfg.GetFloat64("risk.weights.new_fingerprint"),
		},
		LowThreshold:      cfg.GetFloat64("risk.low_threshold"),
		HighThreshold:     cfg.GetFloat64("risk.high_threshold"),
		VelocityWindow:    cfg.GetMinute("risk.velocity_window_minutes"),
		VelocitySoftLimit: cfg.GetInt("risk.velocity_soft_limit"),
		GeoMaxKm:          cfg.GetFloat64("risk.geo_max_km"),
		Blocklist:         cfg.GetArray("risk.blocklist"),
		Allowlist:         cfg.GetArray("risk.allowlist"),
	}
}

// stepUpRegistry enables second factors per config. The challenge DB repo
// doubles as the seed, backup code, and credential source.
func stepUpRegistry(dep Dependency, dbChallenge *db.DB) *stepup.Registry {
	reg := stepup.NewRegistry()

	if dep.Config.GetBool("stepup.totp_enabled") {
		reg.Register(stepup.NewTOTPVerifier(dep.Totp, dep.MFAEncryptor, dbChallenge, dep.Clock))
	}

	if dep.Config.GetBool("stepup.backup_codes_enabled") {
		reg.Register(stepup.NewBackupCodeVerifier(dep.BackupHash, dbChallenge))
	}

	if dep.Config.GetBool("stepup.webauthn_enabled") && dep.WebAuthn != nil {
		vault := stepup.NewCredentialVault(dbChallenge, dep.MFAEncryptor)
		ceremony := stepup.NewRedisCeremonyStore(dep.CacheConn, dep.Config.GetSecond("stepup.webauthn_ceremony_ttl_seconds"))
		reg.Register(stepup.NewWebAuthnVerifier(dep.WebAuthn, vault, ceremony))
	}

	return reg
}

type maintainer interface {
	Sweep(ctx context.Context) (int64, error)
	Purge(ctx context.Context) error
}

// startMaintenance runs the expiry sweep and retention purge on timers
// until the application context is canceled.
func startMaintenance(dep Dependency, uc maintainer) {
	sweepEvery := dep.Config.GetSecond("app.maintenance.sweep_interval_seconds")
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	purgeEvery := dep.Config.GetHour("app.maintenance.purge_interval_hours")
	if purgeEvery <= 0 {
		purgeEvery = time.Hour
	}

	dep.Goroutine.Go(dep.Ctx, func(ctx context.Context) error {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := uc.Sweep(ctx); err != nil {
					slog.ErrorContext(ctx, "expiry sweep failed", "error", err)
				}
			}
		}
	})

	dep.Goroutine.Go(dep.Ctx, func(ctx context.Context) error {
		ticker := time.NewTicker(purgeEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := uc.Purge(ctx); err != nil {
					slog.ErrorContext(ctx, "retention purge failed", "error", err)
				}
			}
		}
	})
}
