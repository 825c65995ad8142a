// internal/services/escalation/config.go
package escalation

import "time"

type Config struct {
	// ResponseWindow is used when a notice is issued without a due date.
	ResponseWindow time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ResponseWindow: 7 * 24 * time.Hour,
	}
}
