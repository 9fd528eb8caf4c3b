// Package config holds shared defaults and limits.
package config

import "time"

// Storage defaults
const (
	// DefaultCacheMiB is the KV engine memory budget when none is given.
	DefaultCacheMiB = 64
)

// Query behavior
const (
	// SlowQueryThreshold is the elapsed time above which a query is
	// logged as slow.
	SlowQueryThreshold = 5 * time.Second
)

// Server timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ShutdownTimeout    = 30 * time.Second

	WriteRequestTimeout = 5 * time.Second
	QueryRequestTimeout = 30 * time.Second
)
