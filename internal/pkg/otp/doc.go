// Package otp generates one-time passcodes and opaque challenge tokens, and
// wraps TOTP operations for the step-up factor.
//
// All randomness comes from crypto/rand. Code generation uses rejection
// sampling so every charset character is equally likely regardless of length.
package otp
