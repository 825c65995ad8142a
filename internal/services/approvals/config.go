// internal/services/approvals/config.go
package approvals

import "time"

type Config struct {
	StatsCacheKey string
	StatsCacheTTL time.Duration
}

func LoadConfig() *Config {
	return &Config{
		StatsCacheKey: "compliance:approval-stats",
		StatsCacheTTL: time.Minute,
	}
}
