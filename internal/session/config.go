package session

import "time"

// Config defines session liveness defaults.
type Config struct {
	// HeartbeatInterval is how often the session looks for dead participants.
	HeartbeatInterval time.Duration
	// DeadAfter is how long a participant may go without a liveness
	// acknowledgement before it is removed.
	DeadAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		DeadAfter:         15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.DeadAfter <= 0 {
		c.DeadAfter = def.DeadAfter
	}
	return c
}
