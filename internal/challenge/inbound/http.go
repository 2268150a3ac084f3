package inbound

import (
	"context"

	"github.com/arvikon/otpgate/internal/challenge/usecase"
	"github.com/arvikon/otpgate/internal/pkg/config"
	"github.com/arvikon/otpgate/internal/pkg/jwt"
	"github.com/arvikon/otpgate/internal/pkg/router"
)

type uc interface {
	RequestChallenge(ctx context.Context, in usecase.RequestChallengeInput) (*usecase.RequestChallengeOutput, error)
	VerifyChallenge(ctx context.Context, in usecase.VerifyChallengeInput) (*usecase.VerifyChallengeOutput, error)
	Resend(ctx context.Context, in usecase.ResendInput) (*usecase.ResendOutput, error)
	Status(ctx context.Context, in usecase.StatusInput) (*usecase.StatusOutput, error)

	CompleteStepUp(ctx context.Context, in usecase.CompleteStepUpInput) (*usecase.CompleteStepUpOutput, error)
	BeginWebAuthn(ctx context.Context) (*usecase.BeginWebAuthnOutput, error)

	Sweep(ctx context.Context) (int64, error)
	Purge(ctx context.Context) error
	EnrollBackupCodes(ctx context.Context, in usecase.EnrollBackupCodesInput) (*usecase.EnrollBackupCodesOutput, error)
}

func RegisterHTTPEndpoint(r *router.Router, uc uc, verifier jwt.JWT, cfg config.Config) {
	end := &HTTPEndpoint{uc: uc}

	ticket := router.TicketAuth(verifier)
	opsKey := router.APIKeyAuth(cfg, "server.ops_api_key")

	// Challenge lifecycle
	r.POST("/api/v1/challenges", end.RequestChallenge)
	r.POST("/api/v1/challenges/verify", end.VerifyChallenge)
	r.POST("/api/v1/challenges/resend", end.Resend)
	r.GET("/api/v1/challenges/:id", end.Status)

	// Step-up (need a valid step-up ticket)
	r.POST("/api/v1/stepup/webauthn/begin", end.BeginWebAuthn, ticket)
	r.POST("/api/v1/stepup/complete", end.CompleteStepUp, ticket)

	// Operational endpoints (need the ops API key)
	r.POST("/api/v1/ops/sweep", end.Sweep, opsKey)
	r.POST("/api/v1/ops/purge", end.Purge, opsKey)
	r.POST("/api/v1/ops/backup-codes", end.EnrollBackupCodes, opsKey)
}
