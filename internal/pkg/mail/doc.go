// Package mail defines the contracts for sending email messages.
//
// The main purpose is to keep the delivery layer independent from a specific
// email transport. Providers work with the Mail interface and Message payload;
// the concrete mechanism (SMTP, API relay, etc) is implemented elsewhere in
// this package.
package mail
