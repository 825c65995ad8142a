// internal/workers/compliance/issue-show-cause-notices/config.go
package issuenotices

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 60 * time.Second,
	}
}
