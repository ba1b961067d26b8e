package oracled

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"merklepay/crypto"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for oracled.
type Config struct {
	ListenAddress  string   `yaml:"listen"`
	GatewayURL     string   `yaml:"gateway"`
	OracleAddress  string   `yaml:"oracle_address"`
	EngagementDir  string   `yaml:"engagement_dir"`
	ProofDir       string   `yaml:"proof_dir"`
	PollInterval   Duration `yaml:"poll_interval"`
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
}

// LoadConfig reads and validates the YAML configuration at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GatewayURL) == "" {
		return fmt.Errorf("config: gateway endpoint required")
	}
	if _, err := crypto.ParseAddress(c.OracleAddress); err != nil {
		return fmt.Errorf("config: oracle_address: %w", err)
	}
	if strings.TrimSpace(c.EngagementDir) == "" {
		return fmt.Errorf("config: engagement_dir required")
	}
	return nil
}

// Oracle returns the configured oracle principal.
func (c *Config) Oracle() [20]byte {
	addr, _ := crypto.ParseAddress(c.OracleAddress)
	return addr
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":9464"
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff.Duration <= 0 {
		c.InitialBackoff.Duration = time.Second
	}
	if c.MaxBackoff.Duration <= 0 {
		c.MaxBackoff.Duration = time.Minute
	}
}
