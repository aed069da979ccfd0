// Package config loads host and client settings from an optional YAML file, then applies
// PORTRPC_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultChannelName = "port-rpc"

type Config struct {
	ChannelName string `yaml:"channelName"`
	// Identity is the runtime identity a peer must present. Empty means generate one at start.
	Identity string `yaml:"identity"`

	ListenAddr  string `yaml:"listenAddr"`
	WSAddr      string `yaml:"wsAddr"`
	MetricsAddr string `yaml:"metricsAddr"`

	Codec            string        `yaml:"codec"` // json | binary
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	Heartbeat        time.Duration `yaml:"heartbeat"`

	RateLimit float64 `yaml:"rateLimit"` // calls per second per procedure, 0 disables
	RateBurst int     `yaml:"rateBurst"`

	EtcdEndpoints []string      `yaml:"etcdEndpoints"`
	EtcdTimeout   time.Duration `yaml:"etcdTimeout"`
	AdvertiseTTL  int64         `yaml:"advertiseTTL"`

	LogLevel       string `yaml:"logLevel"`
	LogDevelopment bool   `yaml:"logDevelopment"`
}

func Default() Config {
	return Config{
		ChannelName:      DefaultChannelName,
		ListenAddr:       "127.0.0.1:7600",
		Codec:            "json",
		HandshakeTimeout: 10 * time.Second,
		RateBurst:        1,
		EtcdTimeout:      5 * time.Second,
		AdvertiseTTL:     10,
		LogLevel:         "info",
	}
}

// Load returns the defaults merged with the file at path (skipped when path is empty)
// and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		Merge(&cfg, parsed)
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Merge copies every field set in src over dst.
func Merge(dst *Config, src Config) {
	if src.ChannelName != "" {
		dst.ChannelName = src.ChannelName
	}
	if src.Identity != "" {
		dst.Identity = src.Identity
	}
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.WSAddr != "" {
		dst.WSAddr = src.WSAddr
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.Codec != "" {
		dst.Codec = src.Codec
	}
	if src.HandshakeTimeout != 0 {
		dst.HandshakeTimeout = src.HandshakeTimeout
	}
	if src.Heartbeat != 0 {
		dst.Heartbeat = src.Heartbeat
	}
	if src.RateLimit != 0 {
		dst.RateLimit = src.RateLimit
	}
	if src.RateBurst != 0 {
		dst.RateBurst = src.RateBurst
	}
	if src.EtcdEndpoints != nil {
		dst.EtcdEndpoints = src.EtcdEndpoints
	}
	if src.EtcdTimeout != 0 {
		dst.EtcdTimeout = src.EtcdTimeout
	}
	if src.AdvertiseTTL != 0 {
		dst.AdvertiseTTL = src.AdvertiseTTL
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogDevelopment {
		dst.LogDevelopment = true
	}
}

func ApplyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"PORTRPC_CHANNEL_NAME": &cfg.ChannelName,
		"PORTRPC_IDENTITY":     &cfg.Identity,
		"PORTRPC_LISTEN_ADDR":  &cfg.ListenAddr,
		"PORTRPC_WS_ADDR":      &cfg.WSAddr,
		"PORTRPC_METRICS_ADDR": &cfg.MetricsAddr,
		"PORTRPC_CODEC":        &cfg.Codec,
		"PORTRPC_LOG_LEVEL":    &cfg.LogLevel,
	}
	for name, dst := range str {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(os.Getenv("PORTRPC_ETCD_ENDPOINTS")); v != "" {
		cfg.EtcdEndpoints = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("PORTRPC_RATE_LIMIT")); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: PORTRPC_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit = n
	}
	if v := strings.TrimSpace(os.Getenv("PORTRPC_HANDSHAKE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: PORTRPC_HANDSHAKE_TIMEOUT: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	return nil
}

func (c Config) Validate() error {
	if c.ChannelName == "" {
		return fmt.Errorf("config: channelName is empty")
	}
	if c.Codec != "json" && c.Codec != "binary" {
		return fmt.Errorf("config: unknown codec %q", c.Codec)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: negative rateLimit")
	}
	return nil
}
