package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/eleven-am/gantry/internal/domain"
)

const (
	EnvPrefix   = "GANTRY_"
	DefaultFile = "gantry.yaml"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load layers the YAML file at path and GANTRY_* environment variables over
// domain.DefaultConfig. Nested keys use a double underscore in variable
// names, so GANTRY_ENGINE__WORKERS sets engine.workers. An empty path reads
// DefaultFile when it exists.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := domain.DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", domain.NewConfigError("", err))
	}

	for i := range cfg.Notifications.Channels {
		cfg.Notifications.Channels[i].URL = substituteEnvVars(cfg.Notifications.Channels[i].URL)
	}
	cfg.ResolvePaths()
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}
