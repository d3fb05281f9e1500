package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"safehands/core"
	"safehands/crypto"
	"safehands/native/escrow"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`
	// GatewayJWTSecret protects the REST read API. Leave empty to serve
	// the gateway without authentication.
	GatewayJWTSecret string `toml:"GatewayJWTSecret"`

	Genesis []GenesisAlloc `toml:"Genesis"`
}

// GenesisAlloc seeds a party balance on first start. Amount is a decimal
// string so TOML files survive balances beyond int64.
type GenesisAlloc struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.GatewayAddress) == "" {
		cfg.GatewayAddress = ":8081"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./safehands-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "safehands-local"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for i, alloc := range c.Genesis {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address)); err != nil {
			return fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		if _, err := escrow.NormalizeAsset(alloc.Asset); err != nil {
			return fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("genesis alloc %d: amount must be a positive decimal string", i)
		}
	}
	return nil
}

// GenesisAllocs converts the configured allocations into the node's form.
// Call validate (via Load) first; malformed entries error here as well.
func (c *Config) GenesisAllocs() ([]core.GenesisAlloc, error) {
	allocs := make([]core.GenesisAlloc, 0, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		asset, err := escrow.NormalizeAsset(alloc.Asset)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %d: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("genesis alloc %d: amount must be a positive decimal string", i)
		}
		allocs = append(allocs, core.GenesisAlloc{
			Address: addr.Raw(),
			Asset:   asset,
			Amount:  amount,
		})
	}
	return allocs, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8080",
		GatewayAddress: ":8081",
		DataDir:        "./safehands-data",
		NetworkName:    "safehands-local",
		Genesis:        []GenesisAlloc{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
