package app

import (
	"context"
	"net/http"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/arvikon/otpgate/internal/challenge/usecase"
	"github.com/arvikon/otpgate/internal/delivery"
	"github.com/arvikon/otpgate/internal/pkg/clock"
	"github.com/arvikon/otpgate/internal/pkg/config"
	"github.com/arvikon/otpgate/internal/pkg/goroutine"
	"github.com/arvikon/otpgate/internal/pkg/hash"
	"github.com/arvikon/otpgate/internal/pkg/idempotency"
	"github.com/arvikon/otpgate/internal/pkg/instrument"
	"github.com/arvikon/otpgate/internal/pkg/jwt"
	"github.com/arvikon/otpgate/internal/pkg/mail"
	"github.com/arvikon/otpgate/internal/pkg/messaging"
	"github.com/arvikon/otpgate/internal/pkg/mfa"
	"github.com/arvikon/otpgate/internal/pkg/otp"
	"github.com/arvikon/otpgate/internal/pkg/router"
	"github.com/arvikon/otpgate/internal/pkg/storage"
	"github.com/arvikon/otpgate/internal/pkg/uid"
	"github.com/arvikon/otpgate/internal/pkg/validator"
)

// App wires dependencies and manages service lifecycle.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	// configuration
	config config.Config
	ins    instrument.Instrumentation

	// libraries
	goroutine    *goroutine.Manager
	validator    validator.Validator
	clock        clock.Clocker
	hmac         hash.Hash
	backupHash   hash.Hash
	uid          uid.NumberID
	uuid         uid.StringID
	totp         otp.OTP
	codeGen      otp.CodeGenerator
	jwt          jwt.JWT
	mfaEncryptor mfa.Encryptor

	// resources
	dbConn    *pgxpool.Pool
	cacheConn *redis.Client
	idemp     idempotency.Idempotency
	mail      mail.Mail
	messaging messaging.Messaging
	storage   storage.Storage
	registry  *delivery.Registry
	webauthn  *webauthn.WebAuthn
	subjects  usecase.SubjectChecker

	// server
	router     *router.Router
	httpServer *http.Server

	//
	closers []struct {
		name string
		fn   func(context.Context) error
	}
}

// New initializes the application with default wiring and returns an App instance.
func New() *App {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		ctx:    ctx,
		cancel: cancel,
	}

	app.initConfig()
	app.initInstrument()
	app.initLibraries()
	app.initJWT()
	app.initDatabase()
	app.initCache()
	app.initMail()
	app.initStorage()
	app.initMessaging()
	app.initDelivery()
	app.initWebAuthn()
	app.initSubjects()
	app.initHTTPServer()
	app.initModules()
	app.initClosers()

	return app
}
