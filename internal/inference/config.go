package inference

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// DefaultBaseURL is the chat-completions endpoint used when none is configured.
const DefaultBaseURL = "https://open.bigmodel.cn/api/paas/v4/chat/completions"

var validate = validator.New()

// Config controls the connection to the remote text service. An empty
// APIKey disables every call.
type Config struct {
	APIKey         string        `env:"INFERENCE_API_KEY"`
	LegacyAPIKey   string        `env:"ZHIPU_API_KEY"`
	BaseURL        string        `env:"INFERENCE_BASE_URL,default=https://open.bigmodel.cn/api/paas/v4/chat/completions" validate:"required,url"`
	Model          string        `env:"INFERENCE_MODEL,default=glm-4-flash" validate:"required"`
	Timeout        time.Duration `env:"INFERENCE_TIMEOUT,default=5s" validate:"gt=0"`
	MaxRetries     int           `env:"INFERENCE_MAX_RETRIES,default=3" validate:"gte=1,lte=10"`
	BaseBackoff    time.Duration `env:"INFERENCE_BASE_BACKOFF,default=1s" validate:"gte=0"`
	MaxSuggestions int           `env:"INFERENCE_MAX_SUGGESTIONS,default=8" validate:"gte=1"`
}

// DefaultConfig returns a disabled configuration with production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Model:          "glm-4-flash",
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		BaseBackoff:    time.Second,
		MaxSuggestions: 8,
	}
}

// NewConfigFromEnv reads the inference settings from the environment.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("read inference config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid inference config: %w", err)
	}
	return cfg, nil
}

// key returns the credential to use, preferring APIKey.
func (c Config) key() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return c.LegacyAPIKey
}
