package inbound

import "time"

type RequestChallengeRequest struct {
	Identifier  string   `json:"identifier"`
	Purpose     string   `json:"purpose"`
	Channel     string   `json:"channel"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Locale      string   `json:"locale,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

type RequestChallengeResponse struct {
	ChallengeID    string    `json:"challenge_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	StepUpRequired bool      `json:"step_up_required"`
}

type VerifyChallengeRequest struct {
	ChallengeID string   `json:"challenge_id"`
	Code        string   `json:"code"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

type VerifyChallengeResponse struct {
	Verified             bool     `json:"verified"`
	SecondFactorRequired bool     `json:"second_factor_required"`
	StepUpTicket         string   `json:"step_up_ticket,omitempty"`
	Factors              []string `json:"factors,omitempty"`
	Identifier           string   `json:"identifier"`
	Purpose              string   `json:"purpose"`
}

type ResendRequest struct {
	Identifier string `json:"identifier"`
	Purpose    string `json:"purpose"`
	Locale     string `json:"locale,omitempty"`
}

type ResendResponse struct {
	ChallengeID string    `json:"challenge_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	ResendCount int16     `json:"resend_count"`
}

type StatusResponse struct {
	ChallengeID       string    `json:"challenge_id"`
	State             string    `json:"state"`
	Channel           string    `json:"channel"`
	ExpiresAt         time.Time `json:"expires_at"`
	RemainingAttempts int16     `json:"remaining_attempts"`
	ResendCooldownAt  time.Time `json:"resend_cooldown_at"`
	ResendCount       int16     `json:"resend_count"`
}

type CompleteStepUpRequest struct {
	Factor string `json:"factor"`
	Proof  string `json:"proof"`
}

type CompleteStepUpResponse struct {
	Completed  bool   `json:"completed"`
	Identifier string `json:"identifier"`
	Purpose    string `json:"purpose"`
}

type SweepResponse struct {
	Expired int64 `json:"expired"`
}

type EnrollBackupCodesRequest struct {
	Identifier string `json:"identifier"`
}

type EnrollBackupCodesResponse struct {
	Codes []string `json:"codes"`
}
