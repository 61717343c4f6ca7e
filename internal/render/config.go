package render

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reelpipe/reelpipe/internal/model"
)

// Config maps segment types to the base URLs of their rendering services.
type Config struct {
	Backends       map[string]string `yaml:"backends"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// LoadConfig reads the backend registry from a YAML file, then applies
// RENDER_BACKEND_<TYPE> environment overrides. Every segment type must end up
// with a backend URL.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		Backends:       map[string]string{},
		TimeoutSeconds: 600,
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read backend registry: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse backend registry: %w", err)
		}
		if cfg.Backends == nil {
			cfg.Backends = map[string]string{}
		}
		if cfg.TimeoutSeconds <= 0 {
			cfg.TimeoutSeconds = 600
		}
	}

	for _, t := range model.SegmentTypes {
		envKey := "RENDER_BACKEND_" + strings.ToUpper(string(t))
		if v := os.Getenv(envKey); v != "" {
			cfg.Backends[string(t)] = v
		}
	}

	var missing []string
	for _, t := range model.SegmentTypes {
		if cfg.Backends[string(t)] == "" {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("no backend configured for segment types: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}
