// Package config exposes runtime configuration behind a read-only interface
// so components receive typed values instead of a concrete config library.
package config

import (
	"io"
	"time"
)

// TimeConfig defines helpers for retrieving duration configuration values.
type TimeConfig interface {
	// GetSecond retrieves the value for key interpreted as seconds.
	GetSecond(key string) time.Duration

	// GetMinute retrieves the value for key interpreted as minutes.
	GetMinute(key string) time.Duration

	// GetHour retrieves the value for key interpreted as hours.
	GetHour(key string) time.Duration

	// GetDay retrieves the value for key interpreted as days (24h).
	GetDay(key string) time.Duration
}

// IntConfig defines helpers for retrieving integer configuration values.
type IntConfig interface {
	// GetInt retrieves the value for key as an int.
	GetInt(key string) int

	// GetInt32 retrieves the value for key as an int32.
	GetInt32(key string) int32

	// GetInt64 retrieves the value for key as an int64.
	GetInt64(key string) int64

	// GetUint retrieves the value for key as a uint.
	GetUint(key string) uint
}

// Config is the read-only configuration surface used across the application.
//
// Implementations should return zero values for missing keys; callers apply
// their own defaults.
type Config interface {
	io.Closer
	TimeConfig
	IntConfig

	// GetBool retrieves the value for key as a bool.
	GetBool(key string) bool

	// GetFloat64 retrieves the value for key as a float64.
	GetFloat64(key string) float64

	// GetString retrieves the value for key as a string.
	GetString(key string) string

	// GetBinary retrieves the value for key decoded from base64.
	GetBinary(key string) []byte

	// GetArray retrieves the value for key split by commas.
	GetArray(key string) []string

	// GetMap retrieves the value for key parsed from "k:v,k:v" pairs.
	GetMap(key string) map[string]string
}
