package event

const RiskAuditDestination string = "risk_audit"

// RiskAuditMessage is the wire shape for risk evaluations. The full factor
// breakdown lives here and only here; clients see a generic refusal.
type RiskAuditMessage struct {
	Identifier  string             `json:"identifier"`
	IP          string             `json:"ip"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	Score       float64            `json:"score"`
	Decision    string             `json:"decision"`
	Factors     map[string]float64 `json:"factors"`
	OccurredAt  int64              `json:"occurred_at"`
}
