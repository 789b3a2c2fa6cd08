package ai

import "time"

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultGeminiModel    = "gemini-2.0-flash"
)

// Config holds AI endpoint settings.
type Config struct {
	Provider string `yaml:"provider"` // openai, gemini
	// Endpoint is the chat completions URL for openai and an optional base
	// URL override for gemini.
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Temperature    *float64      `yaml:"temperature"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MaxRetries is the number of attempts after the first one.
	// Negative disables retries.
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Provider == ProviderOpenAI && c.Endpoint == "" {
		c.Endpoint = defaultOpenAIEndpoint
	}
	if c.Model == "" {
		if c.Provider == ProviderGemini {
			c.Model = defaultGeminiModel
		} else {
			c.Model = defaultOpenAIModel
		}
	}
	if c.Temperature == nil {
		t := 0.1
		c.Temperature = &t
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	return c
}

func (c Config) temperature() float64 {
	if c.Temperature == nil {
		return 0.1
	}
	return *c.Temperature
}
