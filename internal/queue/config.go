package queue

import "time"

// Config holds configuration for the batch queue
type Config struct {
	// QueueName is the key prefix for this queue in Badger
	QueueName string

	// PollInterval is how often workers poll for batches
	PollInterval time.Duration

	// VisibilityTimeout is how long a claimed batch stays invisible before
	// redelivery (covers crashed workers)
	VisibilityTimeout time.Duration

	// MaxAttempts is the maximum deliveries before a batch is terminally failed
	MaxAttempts int

	// BackoffBase is the base delay for exponential retry backoff
	BackoffBase time.Duration
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		QueueName:         "colligo_batches",
		PollInterval:      1 * time.Second,
		VisibilityTimeout: 5 * time.Minute,
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
	}
}
