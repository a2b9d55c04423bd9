package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/dig"

	"github.com/davidbz/heyboss/internal/observability"
	"github.com/davidbz/heyboss/internal/provider/gateway"
	"github.com/davidbz/heyboss/internal/transport"
)

// Config represents the client configuration.
type Config struct {
	Server    ServerConfig
	CORS      CORSConfig
	Gateway   gateway.Config
	Transport transport.Config
	Log       observability.Config
}

// ServerConfig contains relay server settings.
// A zero WriteTimeout leaves long-running streams unbounded.
// File output over the relay is disabled unless OutputDir is set; requested
// paths are then confined to it.
type ServerConfig struct {
	Host         string `env:"SERVER_HOST"          envDefault:"127.0.0.1"`
	Port         int    `env:"SERVER_PORT"          envDefault:"8080"`
	ReadTimeout  int    `env:"SERVER_READ_TIMEOUT"  envDefault:"30"`
	WriteTimeout int    `env:"SERVER_WRITE_TIMEOUT" envDefault:"0"`
	OutputDir    string `env:"SERVER_OUTPUT_DIR"`
}

// CORSConfig contains CORS policy settings.
type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"   envSeparator:"," envDefault:"http://localhost:*,http://127.0.0.1:*"`
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS"   envSeparator:"," envDefault:"GET,POST,OPTIONS"`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS"   envSeparator:"," envDefault:"Content-Type,Authorization"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"                  envDefault:"false"`
	MaxAge           int      `env:"CORS_MAX_AGE"                            envDefault:"86400"`
}

// DepConfig is used for dependency injection with dig.
type DepConfig struct {
	dig.Out

	Server    *ServerConfig
	CORS      *CORSConfig
	Gateway   *gateway.Config
	Transport *transport.Config
	Log       *observability.Config
}

// Load loads environment files and parses configuration.
func Load() *Config {
	for _, file := range []string{".env"} {
		_ = godotenv.Load(file)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	return &cfg
}

// ParseDependenciesConfig returns pointers to sub-configs for dependency injection.
func ParseDependenciesConfig(cfg *Config) DepConfig {
	return DepConfig{
		Server:    &cfg.Server,
		CORS:      &cfg.CORS,
		Gateway:   &cfg.Gateway,
		Transport: &cfg.Transport,
		Log:       &cfg.Log,
	}
}
