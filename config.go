package fleans

import "time"

// Config holds configuration for the workflow engine.
type Config struct {
	// EvalConcurrency is the number of concurrent evaluation workers.
	EvalConcurrency int

	// MailboxSize is the buffer size of each instance's inbound mailbox.
	MailboxSize int

	// EvalTimeout bounds the asynchronous evaluation round-trip. When a
	// pending routing decision outlives the timeout, the routing activity
	// instance fails with an ActivityError. Zero disables the timeout.
	EvalTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EvalConcurrency: 10,
		MailboxSize:     64,
		EvalTimeout:     0,
		ShutdownTimeout: 30 * time.Second,
	}
}
