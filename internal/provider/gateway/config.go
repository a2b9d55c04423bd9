package gateway

import (
	"strings"

	"github.com/davidbz/heyboss/internal/domain"
)

// Config contains gateway connection settings.
//   - APIKey: bearer credential sent on every run call
//   - BaseURL: gateway root; the run endpoint is BaseURL + "/run"
type Config struct {
	APIKey  string `env:"HEYBOSS_API_KEY"`
	BaseURL string `env:"HEYBOSS_BASE_URL" envDefault:"https://api.heybossai.com/v1"`
}

// placeholderKeys are sample values copied from documentation, never real keys.
var placeholderKeys = map[string]struct{}{
	"your-api-key":      {},
	"your_api_key":      {},
	"<api-key>":         {},
	"<your-api-key>":    {},
	"sk-xxx":            {},
	"changeme":          {},
	"xxx":               {},
	"api-key":           {},
	"your-api-key-here": {},
}

// Validate reports a missing or placeholder credential, or an empty base URL.
func (c Config) Validate() error {
	key := strings.TrimSpace(c.APIKey)
	if key == "" {
		return &domain.ConfigurationError{Field: "HEYBOSS_API_KEY", Reason: "is not set"}
	}
	if _, ok := placeholderKeys[strings.ToLower(key)]; ok {
		return &domain.ConfigurationError{Field: "HEYBOSS_API_KEY", Reason: "is a placeholder value"}
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return &domain.ConfigurationError{Field: "HEYBOSS_BASE_URL", Reason: "is empty"}
	}
	return nil
}
