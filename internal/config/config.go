// Package config centralizes runtime configuration for the vaultbridge node.
// VB_* environment variables override an optional YAML file, which overrides
// built-in defaults. A missing file is not an error: development runs on
// defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VB_API_PORT.
const EnvPrefix = "VB"

// Config holds configurable options for the vaultbridge node.
type Config struct {
	KeyFile     string `mapstructure:"key_file"`
	DataDir     string `mapstructure:"data_dir"`
	DBFile      string `mapstructure:"db_file"`
	MaxBackups  int    `mapstructure:"max_backups"`
	ProgramID   string `mapstructure:"program_id"`
	GenesisFile string `mapstructure:"genesis_file"`
	DocsDir     string `mapstructure:"docs_dir"`

	ABCI       ABCIConfig       `mapstructure:"abci"`
	Tendermint TendermintConfig `mapstructure:"tendermint"`
	API        APIConfig        `mapstructure:"api"`
	Log        LogConfig        `mapstructure:"log"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
}

type ABCIConfig struct {
	Socket string `mapstructure:"socket"`
}

type TendermintConfig struct {
	Home string `mapstructure:"home"`
	RPC  string `mapstructure:"rpc"`
}

type APIConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	RingSize int    `mapstructure:"ring_size"`
}

// DiscoveryConfig controls the mDNS announcement of the API port.
type DiscoveryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Stream        string        `mapstructure:"stream"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

var defaults = map[string]interface{}{
	"key_file":            "vb_key.pem",
	"data_dir":            "data",
	"db_file":             "ledger.db",
	"max_backups":         20,
	"program_id":          "",
	"genesis_file":        "",
	"docs_dir":            "docs",
	"abci.socket":         "unix://vb.sock",
	"tendermint.home":     "",
	"tendermint.rpc":      "http://localhost:26657",
	"api.port":            8080,
	"log.level":           "info",
	"log.format":          "text",
	"log.ring_size":       200,
	"nats.url":            "",
	"nats.subject_prefix": "vaultbridge",
	"nats.stream":         "VAULTBRIDGE",
	"nats.timeout":        10 * time.Second,
	"discovery.enabled":   false,
	"discovery.instance":  "",
}

// ConfigPath picks the config file: an explicit --config wins, then
// VB_CONFIG, then the flag's default.
func ConfigPath(flagValue string, explicit bool) string {
	if !explicit {
		if env := os.Getenv(EnvPrefix + "_CONFIG"); env != "" {
			return env
		}
	}
	return flagValue
}

// Load reads the YAML file at path, if any, applies environment overrides
// and fills every unset key from defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.MaxBackups < 0 {
		return fmt.Errorf("max_backups must not be negative")
	}
	if !strings.Contains(c.ABCI.Socket, "://") {
		return fmt.Errorf("abci.socket %q needs a scheme such as unix:// or tcp://", c.ABCI.Socket)
	}
	return nil
}

// DBPath returns the ledger database location. A relative db_file lives
// under data_dir.
func (c *Config) DBPath() string {
	if filepath.IsAbs(c.DBFile) {
		return c.DBFile
	}
	return filepath.Join(c.DataDir, c.DBFile)
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
