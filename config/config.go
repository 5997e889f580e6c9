package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chisme-chat/chisme/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultServerDomain     = "localhost"
	defaultPresenceTTL      = 300 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultSweepSpec        = "@every 1m"
)

// Config is the global configuration object which is filled via the
// configuration file, environment (CHISME_ prefix) and command-line flags.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	// ServerDomain namespaces all ephemeral-store keys, so independent
	// deployments sharing one Redis never collide.
	ServerDomain string `mapstructure:"server_domain"`

	// RedisURL selects the ephemeral store backend. Empty means the
	// embedded store is used instead.
	RedisURL string `mapstructure:"redis_url"`

	// PresenceTTL bounds every presence and voice record. A client that
	// stops heart-beating for this long is considered gone.
	PresenceTTL      time.Duration `mapstructure:"presence_ttl"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`

	// SweepSpec is the cron spec of the voice reconciliation sweep.
	SweepSpec string `mapstructure:"sweep_spec"`

	RoomPrefixes RoomPrefixConfig  `mapstructure:"room_prefixes"`
	Persistence  PersistenceConfig `mapstructure:"persistence"`
	Auth         AuthConfig        `mapstructure:"auth"`

	LogLevel string `mapstructure:"log_level"`
}

// RoomPrefixConfig holds the route prefixes of the three room kinds. They
// only need changing when an older client generation with different route
// names must be kept working.
type RoomPrefixConfig struct {
	Channel   string `mapstructure:"channel"`
	DM        string `mapstructure:"dm"`
	Community string `mapstructure:"community"`
}

// PersistenceConfig configures the durable storage collaborator (users,
// channels, messages, read receipts).
type PersistenceConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AuthConfig configures handshake token verification.
type AuthConfig struct {
	// Secret is the HS256 key access tokens are signed with. It is issued
	// and consumed by the auth collaborator, never by this engine.
	Secret string `mapstructure:"secret"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("listen-addr", "localhost:8000", "service address (including port)")
	flagSet.String("server-domain", defaultServerDomain, "deployment domain, used to namespace store keys")
	flagSet.String("redis-url", "", "redis url for the ephemeral store (empty: embedded store)")
	flagSet.String("log-level", "INFO", "log level")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated. It returns a
// Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("server_domain", defaultServerDomain)
	viper.SetDefault("presence_ttl", defaultPresenceTTL)
	viper.SetDefault("handshake_timeout", defaultHandshakeTimeout)
	viper.SetDefault("sweep_spec", defaultSweepSpec)
	viper.SetDefault("room_prefixes.channel", "channels")
	viper.SetDefault("room_prefixes.dm", "dms")
	viper.SetDefault("room_prefixes.community", "community")
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("CHISME")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}
