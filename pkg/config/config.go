// Package config provides a reusable loader for ledgervm's runner
// configuration files and environment variables.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"ledgervm/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a ledgervm process. It mirrors the
// structure of the YAML files under cmd/config.
type Config struct {
	VM struct {
		// Backend names the WASM compilation backend. Only "singlepass" is
		// supported; it is the only one that yields deterministic output.
		Backend string `mapstructure:"backend" json:"backend"`

		// StackLimit records the operand-stack height bound. The runners do
		// not read it; instrumentation always uses core.WasmStackLimit (65535).
		StackLimit uint32 `mapstructure:"stack_limit" json:"stack_limit"`

		// GasCeiling is the default BlockGasMeter/VpGasMeter ceiling applied
		// when a caller does not supply one explicitly.
		GasCeiling uint64 `mapstructure:"gas_ceiling" json:"gas_ceiling"`

		Tx     RunnerMemory `mapstructure:"tx" json:"tx"`
		Vp     RunnerMemory `mapstructure:"vp" json:"vp"`
		Mm     RunnerMemory `mapstructure:"mm" json:"mm"`
		Filter RunnerMemory `mapstructure:"filter" json:"filter"`
	} `mapstructure:"vm" json:"vm"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	HTTP struct {
		ListenAddr        string  `mapstructure:"listen_addr" json:"listen_addr"`
		RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec" json:"rate_limit_per_sec"`
		RateLimitBurst    int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
	} `mapstructure:"http" json:"http"`
}

// RunnerMemory is the linear-memory page bound for one runner category.
type RunnerMemory struct {
	InitialPages uint32 `mapstructure:"initial_pages" json:"initial_pages"`
	MaxPages     uint32 `mapstructure:"max_pages" json:"max_pages"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LEDGERVM_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LEDGERVM_ENV", ""))
}

// LoadFromDir loads default.yaml (and an optional env-named overlay) from an
// explicit directory rather than the fixed cmd/config / config search path
// Load uses. It runs against its own viper instance instead of the package
// singleton, so repeated calls against different directories (as in tests)
// never see state left over from a previous load.
func LoadFromDir(dir, env string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("default")
	v.AddConfigPath(dir)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
