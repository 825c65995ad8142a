// internal/services/sweeper/config.go
package sweeper

import "time"

type Config struct {
	BatchSize int
	Interval  time.Duration
	// LockKey and LockTTL apply only when a Redis client is configured.
	LockKey    string
	LockTTL    time.Duration
	InstanceID string
}

func LoadConfig() *Config {
	return &Config{
		BatchSize: 500,
		Interval:  5 * time.Minute,
		LockKey:   "compliance:sweep:overdue-observations",
		LockTTL:   2 * time.Minute,
	}
}
