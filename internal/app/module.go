package app

import (
	"log/slog"
	"os"

	"github.com/arvikon/otpgate/internal/challenge"
)

func (a *App) initModules() {
	if err := challenge.New(challenge.Dependency{
		Ctx:          a.ctx,
		DBConn:       a.dbConn,
		CacheConn:    a.cacheConn,
		Goroutine:    a.goroutine,
		Router:       a.router,
		Idempotency:  a.idemp,
		Messaging:    a.messaging,
		Storage:      a.storage,
		Config:       a.config,
		Instrument:   a.ins,
		UID:          a.uid,
		UUID:         a.uuid,
		HMAC:         a.hmac,
		BackupHash:   a.backupHash,
		MFAEncryptor: a.mfaEncryptor,
		Clock:        a.clock,
		Totp:         a.totp,
		CodeGen:      a.codeGen,
		Validator:    a.validator,
		JWT:          a.jwt,
		Registry:     a.registry,
		Subjects:     a.subjects,
		WebAuthn:     a.webauthn,
	}); err != nil {
		slog.Error("failed to init module challenge", "error", err)
		os.Exit(1)
	}
}
