// internal/services/notify/config.go
package notify

type Config struct {
	// Concurrency bounds parallel email/SMS sends per batch.
	Concurrency int
	// Async hands delivery to a background goroutine once the batch is
	// enqueued.
	Async bool
	// LinkBaseURL is prefixed to relative deep links in delivered messages.
	LinkBaseURL string
}

func LoadConfig() *Config {
	return &Config{
		Concurrency: 4,
	}
}
