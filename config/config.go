// Package config loads service configuration from file, environment and
// command line, in that order of precedence (lowest to highest defaults,
// file, env, flags).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Log   Log   `mapstructure:"log"`
	HTTP  HTTP  `mapstructure:"http"`
	AMQP  AMQP  `mapstructure:"amqp"`
	Queue Queue `mapstructure:"queue"`
	Login Login `mapstructure:"login"`
	Cache Cache `mapstructure:"cache"`

	v *viper.Viper
}

type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

type HTTP struct {
	Address string `mapstructure:"address"`
}

type AMQP struct {
	// URL enables the AMQP ingestion pipeline when non-empty.
	URL string `mapstructure:"url"`
}

type Queue struct {
	// Capacity bounds each per-device lane; 0 means unbounded.
	Capacity int `mapstructure:"capacity"`
	// MaxRetries bounds re-queueing of items after failed carrier handoffs.
	MaxRetries int `mapstructure:"max_retries"`
	// MailboxSize is the per-device transport mailbox depth.
	MailboxSize int `mapstructure:"mailbox_size"`
	// SendTimeout caps one transport send to a device session.
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type Login struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

type Cache struct {
	// ConfigTrees is the config-tree cache size (entries).
	ConfigTrees int `mapstructure:"config_trees"`
	// DeviceKeys is the device key-pair cache size (entries).
	DeviceKeys int `mapstructure:"device_keys"`
}

func defaultFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("device-delivery-service", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.String("config_file", "", "path to the configuration file")
	fs.String("log.level", "", "log level (debug|info|warn|error)")
	fs.String("http.address", "", "HTTP listen address")
	fs.String("amqp.url", "", "AMQP broker URL")
	return fs
}

func LoadConfig() (*Config, error) {
	fs := defaultFlags()
	// Unknown flags belong to the CLI layer; ignore them here.
	_ = fs.Parse(os.Args[1:])

	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("http.address", ":8090")
	v.SetDefault("amqp.url", "")
	v.SetDefault("queue.capacity", 0)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.mailbox_size", 64)
	v.SetDefault("queue.send_timeout", 500*time.Millisecond)
	v.SetDefault("login.attempts", 3)
	v.SetDefault("login.delay", 500*time.Millisecond)
	v.SetDefault("cache.config_trees", 4096)
	v.SetDefault("cache.device_keys", 1024)

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	v.SetEnvPrefix("DDS")
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/device-delivery-service")
		if err := v.ReadInConfig(); err != nil {
			// Running on pure defaults/env is fine.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Watch re-reads the file on change and hands the fresh snapshot to
// onChange. Consumers that can apply settings live (log level, retry
// budgets) do so; everything else waits for a restart.
func (c *Config) Watch(logger *slog.Logger, onChange func(*Config)) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		fresh := &Config{v: c.v}
		if err := c.v.Unmarshal(fresh); err != nil {
			logger.Error("config: reload failed", slog.String("file", e.Name), slog.Any("err", err))
			return
		}
		logger.Info("config: reloaded", slog.String("file", e.Name))
		onChange(fresh)
	})
	c.v.WatchConfig()
}
