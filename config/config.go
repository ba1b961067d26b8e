package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"merklepay/crypto"
)

// TokenConfig declares an asset registered at startup.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// Config is the settlement daemon's runtime configuration.
type Config struct {
	ListenAddress   string        `toml:"ListenAddress"`
	DataDir         string        `toml:"DataDir"`
	OwnerAddress    string        `toml:"OwnerAddress"`
	Environment     string        `toml:"Environment"`
	ClaimsPerMinute float64       `toml:"ClaimsPerMinute"`
	ClaimBurst      int           `toml:"ClaimBurst"`
	Tokens          []TokenConfig `toml:"Tokens"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Owner returns the configured owner principal.
func (c *Config) Owner() [20]byte {
	addr, _ := crypto.ParseAddress(c.OwnerAddress)
	return addr
}

func (c *Config) validate() error {
	if _, err := crypto.ParseAddress(c.OwnerAddress); err != nil {
		return fmt.Errorf("config: OwnerAddress: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if c.ClaimsPerMinute <= 0 {
		c.ClaimsPerMinute = 60
	}
	if c.ClaimBurst <= 0 {
		c.ClaimBurst = 5
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:   ":8545",
		DataDir:         "./data",
		OwnerAddress:    "0x" + strings.Repeat("00", 19) + "01",
		ClaimsPerMinute: 60,
		ClaimBurst:      5,
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
