package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/nattskiftet/chatbot/internal/model/prefs"
	"github.com/nattskiftet/chatbot/internal/service/chat"
)

// Config aggregates the settings of every component.
type Config struct {
	Server  ServerConfig
	Agent   AgentConfig
	Session SessionConfig
	Reveal  RevealConfig
	Cookies CookieConfig
	Widget  WidgetConfig
	Log     LogConfig
}

// ServerConfig describes the HTTP gateway.
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	AllowedOrigins  []string      `env:"CHATBOT_ALLOWED_ORIGINS" envSeparator:","`
	ShutdownTimeout time.Duration `env:"CHATBOT_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Addr is derived from Port.
	Addr string
}

// AgentConfig points at the remote conversational agent.
type AgentConfig struct {
	URL     string        `env:"CHATBOT_AGENT_URL" envDefault:"https://navtest.boost.ai/api/chat/v2"`
	Timeout time.Duration `env:"CHATBOT_AGENT_TIMEOUT" envDefault:"10s"`
}

// SessionConfig tunes the session core.
type SessionConfig struct {
	Language            string        `env:"CHATBOT_LANGUAGE" envDefault:"nb-NO"`
	PollMin             time.Duration `env:"CHATBOT_POLL_MIN" envDefault:"1s"`
	PollMax             time.Duration `env:"CHATBOT_POLL_MAX" envDefault:"2500ms"`
	PollBackoffStep     float64       `env:"CHATBOT_POLL_BACKOFF_STEP" envDefault:"0.25"`
	PollKickMultiplier  float64       `env:"CHATBOT_POLL_KICK_MULTIPLIER" envDefault:"0.1"`
	TypingDebounce      time.Duration `env:"CHATBOT_TYPING_DEBOUNCE" envDefault:"2s"`
	MaxInputChars       int           `env:"CHATBOT_MAX_INPUT_CHARS" envDefault:"110"`
	RollbackFailedSends bool          `env:"CHATBOT_ROLLBACK_FAILED_SENDS" envDefault:"false"`
}

// RevealConfig controls the simulated typing delay.
type RevealConfig struct {
	Delay time.Duration `env:"CHATBOT_REVEAL_DELAY" envDefault:"1250ms"`
}

// CookieConfig controls the cookies carrying widget state.
type CookieConfig struct {
	Domain string        `env:"CHATBOT_COOKIE_DOMAIN" envDefault:".nav.no"`
	Prefix string        `env:"CHATBOT_COOKIE_PREFIX" envDefault:"nav-chatbot"`
	Secure bool          `env:"CHATBOT_COOKIE_SECURE" envDefault:"true"`
	MaxAge time.Duration `env:"CHATBOT_COOKIE_MAX_AGE" envDefault:"720h"`
}

// WidgetConfig controls widget lifetime and request throttling.
type WidgetConfig struct {
	IdleTTL   time.Duration `env:"CHATBOT_WIDGET_IDLE_TTL" envDefault:"30m"`
	RateLimit float64       `env:"CHATBOT_RATE_LIMIT" envDefault:"5"`
	RateBurst int           `env:"CHATBOT_RATE_BURST" envDefault:"10"`

	// MaxWidgets caps live widgets; 0 disables the cap.
	MaxWidgets int `env:"CHATBOT_MAX_WIDGETS" envDefault:"10000"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `env:"CHATBOT_LOG_LEVEL" envDefault:"info"`
	Pretty bool   `env:"CHATBOT_LOG_PRETTY" envDefault:"false"`
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := resolveAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.Session.Language = prefs.NormalizeLanguage(cfg.Session.Language)
	cfg.Agent.URL = strings.TrimSpace(cfg.Agent.URL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Agent.URL == "" {
		return fmt.Errorf("CHATBOT_AGENT_URL must not be empty")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("invalid CHATBOT_AGENT_TIMEOUT value %s", c.Agent.Timeout)
	}
	if c.Session.PollMin <= 0 || c.Session.PollMax < c.Session.PollMin {
		return fmt.Errorf("invalid poll interval range %s..%s", c.Session.PollMin, c.Session.PollMax)
	}
	if c.Session.MaxInputChars < 1 {
		return fmt.Errorf("invalid CHATBOT_MAX_INPUT_CHARS value %d", c.Session.MaxInputChars)
	}
	if c.Widget.RateLimit <= 0 || c.Widget.RateBurst < 1 {
		return fmt.Errorf("invalid rate limit %v/s burst %d", c.Widget.RateLimit, c.Widget.RateBurst)
	}
	if c.Widget.MaxWidgets < 0 {
		return fmt.Errorf("invalid CHATBOT_MAX_WIDGETS value %d", c.Widget.MaxWidgets)
	}
	return nil
}

// resolveAddr turns PORT into a listen address.
func resolveAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are taken as is.
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// Chat converts the session settings for the session core.
func (c SessionConfig) Chat() chat.Config {
	return chat.Config{
		ClientLanguage:       c.Language,
		PollMin:              c.PollMin,
		PollMax:              c.PollMax,
		PollBackoffStep:      c.PollBackoffStep,
		PollKickMultiplier:   c.PollKickMultiplier,
		TypingDebounce:       c.TypingDebounce,
		DefaultMaxInputChars: c.MaxInputChars,
		RollbackFailedSends:  c.RollbackFailedSends,
	}
}

// CookieName returns the full cookie name for key, e.g. nav-chatbot:open.
func (c CookieConfig) CookieName(key string) string {
	return c.Prefix + ":" + key
}

// DomainFor returns the cookie domain to use for requests to host. Cookies
// are host-only on localhost.
func (c CookieConfig) DomainFor(host string) string {
	hostname := host
	if h, _, ok := strings.Cut(host, ":"); ok {
		hostname = h
	}
	if hostname == "localhost" || hostname == "127.0.0.1" || hostname == "" {
		return ""
	}
	return c.Domain
}
