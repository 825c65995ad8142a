// internal/workers/compliance/sweep-overdue-observations/config.go
package sweepoverdue

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 2 * time.Minute,
	}
}
