package inbound

import (
	"github.com/arvikon/otpgate/internal/challenge/usecase"
	"github.com/arvikon/otpgate/internal/pkg/router"
)

// HTTPEndpoint exposes the challenge lifecycle over HTTP. It is a thin
// consumer of the orchestrator; all policy lives in the usecase layer.
type HTTPEndpoint struct {
	uc uc
}

// RequestChallenge issues and delivers a new challenge code.
func (h *HTTPEndpoint) RequestChallenge(r *router.Request) (any, error) {
	var req RequestChallengeRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	resp, err := h.uc.RequestChallenge(r.Context(), usecase.RequestChallengeInput{
		Identifier:  req.Identifier,
		Purpose:     req.Purpose,
		Channel:     req.Channel,
		IP:          r.ClientIP(),
		Fingerprint: req.Fingerprint,
		Locale:      req.Locale,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		return nil, err
	}

	return RequestChallengeResponse{
		ChallengeID:    resp.ChallengeID,
		ExpiresAt:      resp.ExpiresAt,
		StepUpRequired: resp.StepUpRequired,
	}, nil
}

// VerifyChallenge checks a submitted code against its challenge.
func (h *HTTPEndpoint) VerifyChallenge(r *router.Request) (any, error) {
	var req VerifyChallengeRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	resp, err := h.uc.VerifyChallenge(r.Context(), usecase.VerifyChallengeInput{
		ChallengeID: req.ChallengeID,
		Code:        req.Code,
		IP:          r.ClientIP(),
		Fingerprint: req.Fingerprint,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	if err != nil {
		return nil, err
	}

	return VerifyChallengeResponse{
		Verified:             resp.Verified,
		SecondFactorRequired: resp.SecondFactorRequired,
		StepUpTicket:         resp.StepUpTicket,
		Factors:              resp.Factors,
		Identifier:           resp.Identifier,
		Purpose:              resp.Purpose,
	}, nil
}

// Resend redelivers the pending challenge with fresh code material.
func (h *HTTPEndpoint) Resend(r *router.Request) (any, error) {
	var req ResendRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	resp, err := h.uc.Resend(r.Context(), usecase.ResendInput{
		Identifier: req.Identifier,
		Purpose:    req.Purpose,
		Locale:     req.Locale,
	})
	if err != nil {
		return nil, err
	}

	return ResendResponse{
		ChallengeID: resp.ChallengeID,
		ExpiresAt:   resp.ExpiresAt,
		ResendCount: resp.ResendCount,
	}, nil
}

// Status reports the public view of a challenge.
func (h *HTTPEndpoint) Status(r *router.Request) (any, error) {
	resp, err := h.uc.Status(r.Context(), usecase.StatusInput{
		ChallengeID: r.GetParam("id"),
	})
	if err != nil {
		return nil, err
	}

	return StatusResponse{
		ChallengeID:       resp.ChallengeID,
		State:             resp.State,
		Channel:           resp.Channel,
		ExpiresAt:         resp.ExpiresAt,
		RemainingAttempts: resp.RemainingAttempts,
		ResendCooldownAt:  resp.ResendCooldownAt,
		ResendCount:       resp.ResendCount,
	}, nil
}

// BeginWebAuthn opens an assertion ceremony for the ticket holder.
func (h *HTTPEndpoint) BeginWebAuthn(r *router.Request) (any, error) {
	resp, err := h.uc.BeginWebAuthn(r.Context())
	if err != nil {
		return nil, err
	}
	return resp.Options, nil
}

// CompleteStepUp finishes a verification with a second factor.
func (h *HTTPEndpoint) CompleteStepUp(r *router.Request) (any, error) {
	var req CompleteStepUpRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	resp, err := h.uc.CompleteStepUp(r.Context(), usecase.CompleteStepUpInput{
		Factor: req.Factor,
		Proof:  req.Proof,
	})
	if err != nil {
		return nil, err
	}

	return CompleteStepUpResponse{
		Completed:  resp.Completed,
		Identifier: resp.Identifier,
		Purpose:    resp.Purpose,
	}, nil
}

// Sweep runs an expiry sweep on demand.
func (h *HTTPEndpoint) Sweep(r *router.Request) (any, error) {
	expired, err := h.uc.Sweep(r.Context())
	if err != nil {
		return nil, err
	}
	return SweepResponse{Expired: expired}, nil
}

// Purge runs the retention purge on demand.
func (h *HTTPEndpoint) Purge(r *router.Request) (any, error) {
	if err := h.uc.Purge(r.Context()); err != nil {
		return nil, err
	}
	return nil, nil
}

// EnrollBackupCodes issues a fresh backup code set for a subject. The
// plaintext codes appear in this response and nowhere else.
func (h *HTTPEndpoint) EnrollBackupCodes(r *router.Request) (any, error) {
	var req EnrollBackupCodesRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	resp, err := h.uc.EnrollBackupCodes(r.Context(), usecase.EnrollBackupCodesInput{
		Identifier: req.Identifier,
	})
	if err != nil {
		return nil, err
	}

	return EnrollBackupCodesResponse{Codes: resp.Codes}, nil
}
