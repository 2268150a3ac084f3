package mail

import (
	"context"
	"io"
)

// Message represents an email payload.
//
// Fields are intentionally transport-agnostic so they can be sent using SMTP
// or other delivery mechanisms. Challenge mail is always single-recipient, so
// there are no Cc/Bcc fields.
type Message struct {
	// From is an optional explicit sender; fallback depends on implementation.
	From string
	// To is the required recipient.
	To string
	// Subject is the email subject line.
	Subject string
	// TextBody is the plain-text body; preferred when HTMLBody is empty.
	TextBody string
	// HTMLBody is the optional HTML body.
	HTMLBody string
}

// Mail abstracts an email transport (SMTP, third-party API, etc).
type Mail interface {
	io.Closer
	// Send dispatches the given message using the underlying transport.
	Send(ctx context.Context, msg Message) error
}
