package chat

import "time"

// Config tunes a Manager. Zero fields fall back to DefaultConfig values.
type Config struct {
	// ClientLanguage is sent with START and RESUME.
	ClientLanguage string

	PollMin            time.Duration
	PollMax            time.Duration
	PollBackoffStep    float64
	PollKickMultiplier float64

	TypingDebounce time.Duration

	// DefaultMaxInputChars applies when the conversation carries no limit.
	DefaultMaxInputChars int

	// RollbackFailedSends removes a queued message when its POST fails.
	RollbackFailedSends bool
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		ClientLanguage:       "nb-NO",
		PollMin:              1000 * time.Millisecond,
		PollMax:              2500 * time.Millisecond,
		PollBackoffStep:      0.25,
		PollKickMultiplier:   0.1,
		TypingDebounce:       2 * time.Second,
		DefaultMaxInputChars: 110,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ClientLanguage == "" {
		c.ClientLanguage = def.ClientLanguage
	}
	if c.PollMin <= 0 {
		c.PollMin = def.PollMin
	}
	if c.PollMax <= 0 {
		c.PollMax = def.PollMax
	}
	if c.PollMax < c.PollMin {
		c.PollMax = c.PollMin
	}
	if c.PollBackoffStep <= 0 {
		c.PollBackoffStep = def.PollBackoffStep
	}
	if c.PollKickMultiplier <= 0 {
		c.PollKickMultiplier = def.PollKickMultiplier
	}
	if c.TypingDebounce <= 0 {
		c.TypingDebounce = def.TypingDebounce
	}
	if c.DefaultMaxInputChars <= 0 {
		c.DefaultMaxInputChars = def.DefaultMaxInputChars
	}
	return c
}
