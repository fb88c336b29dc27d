package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models luvia.yml.
type Config struct {
	Org struct {
		Name string `yaml:"name"`
	} `yaml:"org"`
	Pricing struct {
		Factor   float64 `yaml:"factor"`
		Currency string  `yaml:"currency"`
	} `yaml:"pricing"`
	Booking struct {
		ServiceNames map[string]string `yaml:"service_names"`
	} `yaml:"booking"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Seed struct {
		Demo bool `yaml:"demo"`
	} `yaml:"seed"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with luv init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.Name == "" {
		return fmt.Errorf("config.org.name is required")
	}
	if c.Pricing.Factor < 1.0 || c.Pricing.Factor > 3.0 {
		return fmt.Errorf("config.pricing.factor must be between 1.0 and 3.0")
	}
	if c.Pricing.Currency == "" {
		return fmt.Errorf("config.pricing.currency is required")
	}
	for svc, name := range c.Booking.ServiceNames {
		if svc != "cleaning" && svc != "technical" {
			return fmt.Errorf("config.booking.service_names has unknown service type %s", svc)
		}
		if name == "" {
			return fmt.Errorf("config.booking.service_names.%s is empty", svc)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "luvia.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgName string) string {
	return fmt.Sprintf(defaultTemplate, orgName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an organization.
func Default(orgName string) *Config {
	var cfg Config
	cfg.Org.Name = orgName
	cfg.Pricing.Factor = 1.0
	cfg.Pricing.Currency = "NGN"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `org:
  name: %s

pricing:
  # Global demand multiplier applied to base rates, 1.0 to 3.0.
  factor: 1.0
  currency: NGN

booking:
  service_names:
    cleaning: Scientific Janitorial
    technical: Technical Maintenance

auth:
  jwt_secret: ""
  allow_legacy_actor_header: true

server:
  addr: 127.0.0.1:8484

seed:
  # Load the demo client, marketplace catalog and sample job on first run.
  demo: true
`
