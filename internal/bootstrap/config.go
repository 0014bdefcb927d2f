package bootstrap

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/target/mmk-pageshot/config"
)

// InitLogger installs the JSON logger used until configuration is loaded.
func InitLogger() *slog.Logger {
	return install(slog.NewJSONHandler(os.Stdout, nil))
}

func install(h slog.Handler) *slog.Logger {
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// NewLogger builds the logger LOG_LEVEL and LOG_FORMAT describe on w and
// makes it the default. Debug logging adds source locations.
func NewLogger(w io.Writer, cfg *config.AppConfig) (*slog.Logger, error) {
	level, err := cfg.Log.SlogLevel(cfg.IsDev)
	if err != nil {
		return nil, err
	}
	text, err := cfg.Log.Text(cfg.IsDev)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	if text {
		return install(slog.NewTextHandler(w, opts)), nil
	}
	return install(slog.NewJSONHandler(w, opts)), nil
}

// envFileVar names an alternative dotenv file; the default is ./.env.
const envFileVar = "ENV_FILE"

// LoadConfig reads the dotenv file when present, then parses and sanitizes
// the environment. Variables already set win over the file.
func LoadConfig() (config.AppConfig, error) {
	file := cmp.Or(os.Getenv(envFileVar), ".env")
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.AppConfig{}, fmt.Errorf("load %s: %w", file, err)
	}
	cfg, err := env.ParseAs[config.AppConfig]()
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig rejects an unparsable or empty SERVICES list, and bad
// auth settings when the HTTP server runs.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	if services.Has(config.ServiceModeHTTP) {
		if err := cfg.Auth.Validate(); err != nil {
			return fmt.Errorf("invalid auth configuration: %w", err)
		}
	}
	return nil
}

// GetEnabledServices lists enabled service names in startup order. An invalid
// SERVICES value yields nil; ValidateServiceConfig reports it.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return nil
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return nil
	}
	return services.Names()
}
