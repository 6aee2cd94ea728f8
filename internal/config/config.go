package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const SupportedSchema = "v1"

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type TLSCfg struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type KafkaTapCfg struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	Acks    int16    `koanf:"required_acks"` // 0,1,-1
}

type TapCfg struct {
	Sink  string      `koanf:"sink"` // file|kafka
	Dir   string      `koanf:"dir"`
	Kafka KafkaTapCfg `koanf:"kafka"`
}

type Config struct {
	Listen        string        `koanf:"listen"`
	ConsoleSocket string        `koanf:"console_socket"`
	MetricsPort   int           `koanf:"metrics_port"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`

	Log LogCfg `koanf:"log"`
	TLS TLSCfg `koanf:"tls"`
	Tap TapCfg `koanf:"tap"`
}

// Load merges YAML (if present) with env-vars
// (prefix `LBBS__`, delimiter `__`).
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	_ = k.Load(env.Provider("LBBS__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Listen == "" {
		c.Listen = ":2323"
	}
	if c.ConsoleSocket == "" {
		c.ConsoleSocket = "/var/run/lbbs/console.sock"
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9100
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Minute
	}
	if c.Tap.Sink == "" {
		c.Tap.Sink = "file"
	}
	if c.Tap.Dir == "" {
		c.Tap.Dir = "/var/log/lbbs/taps"
	}
	if c.Tap.Kafka.Topic == "" {
		c.Tap.Kafka.Topic = "lbbs.taps"
	}
}
