package entity

import "strings"

// Channel identifies the delivery channel for a challenge code.
type Channel int16

const (
	ChannelUnknown Channel = 0
	ChannelSMS     Channel = 1
	ChannelEmail   Channel = 2
	ChannelVoice   Channel = 3
	// ChannelMessagingApp covers chat platforms (WhatsApp-style HTTP APIs).
	ChannelMessagingApp Channel = 4
)

func (c Channel) String() string {
	switch c {
	case ChannelSMS:
		return "sms"
	case ChannelEmail:
		return "email"
	case ChannelVoice:
		return "voice"
	case ChannelMessagingApp:
		return "messaging-app"
	default:
		return "unknown"
	}
}

// IsUnknown reports whether the channel is outside the recognized set.
func (c Channel) IsUnknown() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelVoice, ChannelMessagingApp:
		return false
	default:
		return true
	}
}

// ParseChannel maps a wire string to a Channel. Unrecognized values return
// ChannelUnknown.
func ParseChannel(s string) Channel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sms":
		return ChannelSMS
	case "email":
		return ChannelEmail
	case "voice":
		return ChannelVoice
	case "messaging-app", "messaging_app", "whatsapp":
		return ChannelMessagingApp
	default:
		return ChannelUnknown
	}
}

// State is the lifecycle state of a challenge.
//
// pending is the only non-terminal state. verified is a transient marker set
// in the same update that consumes the challenge; it never survives a
// successful verify on its own.
type State int16

const (
	StateUnknown  State = 0
	StatePending  State = 1
	StateVerified State = 2
	StateConsumed State = 3
	StateExpired  State = 4
	StateLocked   State = 5
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateVerified:
		return "verified"
	case StateConsumed:
		return "consumed"
	case StateExpired:
		return "expired"
	case StateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state permits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateConsumed, StateExpired, StateLocked, StateVerified:
		return true
	default:
		return false
	}
}

// AttemptStatus is the outcome of a single provider delivery call.
type AttemptStatus int16

const (
	AttemptStatusUnknown   AttemptStatus = 0
	AttemptStatusQueued    AttemptStatus = 1
	AttemptStatusSent      AttemptStatus = 2
	AttemptStatusFailed    AttemptStatus = 3
	AttemptStatusConfirmed AttemptStatus = 4
)

func (a AttemptStatus) String() string {
	switch a {
	case AttemptStatusQueued:
		return "queued"
	case AttemptStatusSent:
		return "sent"
	case AttemptStatusFailed:
		return "failed"
	case AttemptStatusConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// ErrorKind classifies a failed delivery call.
type ErrorKind int16

const (
	ErrorKindNone           ErrorKind = 0
	ErrorKindNetwork        ErrorKind = 1
	ErrorKindVendorRejected ErrorKind = 2
	ErrorKindQuotaExceeded  ErrorKind = 3
	ErrorKindTimeout        ErrorKind = 4
)

func (e ErrorKind) String() string {
	switch e {
	case ErrorKindNone:
		return "none"
	case ErrorKindNetwork:
		return "network"
	case ErrorKindVendorRejected:
		return "vendor-rejected"
	case ErrorKindQuotaExceeded:
		return "quota-exceeded"
	case ErrorKindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
