package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config carries the daemon settings loaded from a TOML file.
type Config struct {
	// ListenAddress is the host:port the JSON-RPC server binds to.
	ListenAddress string `toml:"ListenAddress"`
	// DataDir holds the LevelDB state store and the event journal.
	DataDir string `toml:"DataDir"`
	// AdminAddress is the bech32 principal allowed to perform issuer
	// operations. Required.
	AdminAddress string `toml:"AdminAddress"`
	// TokenSymbol names the settlement asset. When empty the daemon runs in
	// bookkeeping-only mode and no funds move on draws or repayments.
	TokenSymbol string `toml:"TokenSymbol"`
	// ReserveAddress overrides the liquidity reserve principal. When empty
	// the module's own address holds the reserve.
	ReserveAddress string `toml:"ReserveAddress"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"LogLevel"`
	// LogFormat is either json or text.
	LogFormat string `toml:"LogFormat"`
	// LogFile, when set, routes output to a size-rotated file instead of
	// stdout.
	LogFile string `toml:"LogFile"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress: "127.0.0.1:8645",
		DataDir:       "./creditra-data",
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load reads the configuration at path, creating a default file first when
// none exists.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultConfig().ListenAddress
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultConfig().DataDir
	}
	return cfg, nil
}

func createDefault(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: write defaults: %w", err)
	}
	return nil
}
