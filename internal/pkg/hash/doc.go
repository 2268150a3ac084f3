// Package hash provides helpers for hashing and verifying secrets.
//
// OTP codes and challenge tokens are stored only as keyed hashes; user input
// is verified by comparing the plaintext against the stored hash in constant
// time. Implementations live in this package behind a small interface.
package hash
