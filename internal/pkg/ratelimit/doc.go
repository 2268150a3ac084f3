// Package ratelimit provides sliding-window rate limiting backed by Redis,
// plus an in-process token bucket for whole-system guards.
//
// Each (key, action) pair owns a Redis sorted set of request timestamps;
// entries older than the window are trimmed on every check, so windows slide
// rather than reset. Limits compose: callers check every applicable limit and
// admit the request only if all of them pass.
package ratelimit
