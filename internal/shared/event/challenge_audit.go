package event

const ChallengeAuditDestination string = "challenge_audit"
const ChallengeAuditConsumerAnalytics string = "challenge_audit_analytics"

// ChallengeAuditMessage is the wire shape for challenge lifecycle audit
// events. Code material never appears here.
type ChallengeAuditMessage struct {
	Event       string `json:"event"`
	ChallengeID string `json:"challenge_id,omitempty"`
	Identifier  string `json:"identifier"`
	Purpose     string `json:"purpose"`
	Channel     string `json:"channel,omitempty"`
	State       string `json:"state,omitempty"`
	ProviderID  string `json:"provider_id,omitempty"`
	OccurredAt  int64  `json:"occurred_at"`
}
