// Package uid provides ID generation behind small interfaces so callers can
// swap generators in tests.
package uid

// StringID generates opaque string identifiers.
type StringID interface {
	Generate() string
}

// NumberID generates int64 identifiers suitable for database primary keys.
type NumberID interface {
	Generate() int64
}
