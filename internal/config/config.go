// Package config provides configuration management for the service scanner.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Domain names accepted in Config.Domains and DirConfig.Domain.
const (
	DomainSystem = "system"
	DomainGlobal = "global"
	DomainUser   = "user"
)

// CurrentUser selects the uid of the running process.
const CurrentUser = -1

// Config is the scanner configuration (Scanner.json).
type Config struct {
	Domains      []string        `json:"Domains"`
	UID          int             `json:"UID"`     // owner of the user domain, CurrentUser for the caller
	HomeDir      string          `json:"HomeDir"` // empty = home of the running user
	ExtraDirs    []DirConfig     `json:"ExtraDirs"`
	Workers      int             `json:"Workers"`
	MaxDepth     int             `json:"MaxDepth"`
	QueryTimeout time.Duration   `json:"QueryTimeout"`
	ProcessTable bool            `json:"ProcessTable"`
	Launchctl    LaunchctlConfig `json:"Launchctl"`
}

// DirConfig is an additional definition directory.
type DirConfig struct {
	Path   string `json:"Path"`
	Domain string `json:"Domain"` // "system", "global" or "user"
	Kind   string `json:"Kind"`   // "agent" or "daemon"
}

// LaunchctlConfig contains settings for the launchctl status source.
type LaunchctlConfig struct {
	Enabled bool          `json:"Enabled"`
	Path    string        `json:"Path"`
	Timeout time.Duration `json:"Timeout"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Domains:      []string{DomainSystem, DomainGlobal, DomainUser},
		UID:          CurrentUser,
		Workers:      8,
		MaxDepth:     64,
		QueryTimeout: 30 * time.Second,
		ProcessTable: true,
		Launchctl: LaunchctlConfig{
			Enabled: true,
			Path:    "/bin/launchctl",
			Timeout: 10 * time.Second,
		},
	}
}

// Merge applies non-zero values from other to this config. Booleans and UID
// are applied by the loader only when present in the file.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Domains) > 0 {
		c.Domains = other.Domains
	}
	if other.HomeDir != "" {
		c.HomeDir = other.HomeDir
	}
	if len(other.ExtraDirs) > 0 {
		c.ExtraDirs = other.ExtraDirs
	}
	if other.Workers != 0 {
		c.Workers = other.Workers
	}
	if other.MaxDepth != 0 {
		c.MaxDepth = other.MaxDepth
	}
	if other.QueryTimeout != 0 {
		c.QueryTimeout = other.QueryTimeout
	}
	if other.Launchctl.Path != "" {
		c.Launchctl.Path = other.Launchctl.Path
	}
	if other.Launchctl.Timeout != 0 {
		c.Launchctl.Timeout = other.Launchctl.Timeout
	}
}

// Validate checks values that cannot be corrected by defaults.
func (c *Config) Validate() error {
	for _, d := range c.Domains {
		if !validDomain(d) {
			return fmt.Errorf("unknown domain %q (supported: system, global, user)", d)
		}
	}
	for _, d := range c.ExtraDirs {
		if d.Path == "" {
			return errors.New("extra directory without path")
		}
		if !validDomain(d.Domain) {
			return fmt.Errorf("extra directory %s: unknown domain %q", d.Path, d.Domain)
		}
		if d.Kind != "" && d.Kind != "agent" && d.Kind != "daemon" {
			return fmt.Errorf("extra directory %s: unknown kind %q (supported: agent, daemon)", d.Path, d.Kind)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max depth must be at least 1, got %d", c.MaxDepth)
	}
	return nil
}

// HasDomain reports whether name is one of the enabled domains.
func (c *Config) HasDomain(name string) bool {
	for _, d := range c.Domains {
		if d == name {
			return true
		}
	}
	return false
}

func validDomain(d string) bool {
	return d == DomainSystem || d == DomainGlobal || d == DomainUser
}

// WatchConfig configures watch mode (Watch.json): rescan timing and where
// snapshots are exported.
type WatchConfig struct {
	Interval   time.Duration `json:"Interval"`
	WatchDirs  bool          `json:"WatchDirs"`
	Debounce   time.Duration `json:"Debounce"`
	SenderType string        `json:"SenderType"` // "file", "kafka" or "redis"
	File       FileConfig    `json:"File"`
	Kafka      KafkaConfig   `json:"Kafka"`
	Redis      RedisConfig   `json:"Redis"`
	SOCKSProxy SOCKSConfig   `json:"SocksProxy"`
}

// FileConfig contains settings for the file sender.
type FileConfig struct {
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	Console    bool   `json:"Console"`
	Pretty     bool   `json:"Pretty"`
	Format     string `json:"Format"` // "json" (one snapshot per line) or "rows"
}

// KafkaConfig contains Kafka connection settings.
type KafkaConfig struct {
	Brokers        []string      `json:"Brokers"`
	Topic          string        `json:"Topic"`
	Compression    string        `json:"Compression"`
	RequiredAcks   int           `json:"RequiredAcks"`
	MaxRetries     int           `json:"MaxRetries"`
	RetryBackoff   time.Duration `json:"RetryBackoff"`
	FlushFrequency time.Duration `json:"FlushFrequency"`
	FlushMessages  int           `json:"FlushMessages"`
	Timeout        time.Duration `json:"Timeout"`
	EnableTLS      bool          `json:"EnableTLS"`
	TLSCertFile    string        `json:"TLSCertFile"`
	TLSKeyFile     string        `json:"TLSKeyFile"`
	TLSCAFile      string        `json:"TLSCAFile"`
	SASLEnabled    bool          `json:"SASLEnabled"`
	SASLMechanism  string        `json:"SASLMechanism"`
	SASLUser       string        `json:"SASLUser"`
	SASLPassword   string        `json:"SASLPassword"`
}

// RedisConfig contains settings for the Redis sender.
type RedisConfig struct {
	Address  string        `json:"Address"`
	Password string        `json:"Password"`
	DB       int           `json:"DB"`
	Key      string        `json:"Key"` // key holding the latest snapshot
	TTL      time.Duration `json:"TTL"`
}

// SOCKSConfig contains SOCKS5 proxy settings.
type SOCKSConfig struct {
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

// DefaultWatchConfig returns watch settings with sensible defaults.
func DefaultWatchConfig() *WatchConfig {
	return &WatchConfig{
		Interval:   5 * time.Minute,
		WatchDirs:  true,
		Debounce:   2 * time.Second,
		SenderType: "file",
		File: FileConfig{
			FilePath:   "log/svcscan/snapshots.jsonl",
			MaxSizeMB:  50,
			MaxBackups: 3,
			Format:     "json",
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Topic:          "service-registry",
			Compression:    "snappy",
			RequiredAcks:   1,
			MaxRetries:     3,
			RetryBackoff:   100 * time.Millisecond,
			FlushFrequency: 500 * time.Millisecond,
			FlushMessages:  100,
			Timeout:        10 * time.Second,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Key:     "svcscan:snapshot",
			TTL:     time.Hour,
		},
	}
}

// Merge applies non-zero values from other to this WatchConfig.
func (w *WatchConfig) Merge(other *WatchConfig) {
	if other == nil {
		return
	}

	if other.Interval != 0 {
		w.Interval = other.Interval
	}
	if other.Debounce != 0 {
		w.Debounce = other.Debounce
	}
	if other.SenderType != "" {
		w.SenderType = other.SenderType
	}

	// Merge File config
	if other.File.FilePath != "" {
		w.File.FilePath = other.File.FilePath
	}
	if other.File.MaxSizeMB != 0 {
		w.File.MaxSizeMB = other.File.MaxSizeMB
	}
	if other.File.MaxBackups != 0 {
		w.File.MaxBackups = other.File.MaxBackups
	}
	w.File.Console = other.File.Console
	w.File.Pretty = other.File.Pretty
	if other.File.Format != "" {
		w.File.Format = other.File.Format
	}

	// Merge Kafka config
	if len(other.Kafka.Brokers) > 0 {
		w.Kafka.Brokers = other.Kafka.Brokers
	}
	if other.Kafka.Topic != "" {
		w.Kafka.Topic = other.Kafka.Topic
	}
	if other.Kafka.Compression != "" {
		w.Kafka.Compression = other.Kafka.Compression
	}
	if other.Kafka.RequiredAcks != 0 {
		w.Kafka.RequiredAcks = other.Kafka.RequiredAcks
	}
	if other.Kafka.MaxRetries != 0 {
		w.Kafka.MaxRetries = other.Kafka.MaxRetries
	}
	if other.Kafka.RetryBackoff != 0 {
		w.Kafka.RetryBackoff = other.Kafka.RetryBackoff
	}
	if other.Kafka.FlushFrequency != 0 {
		w.Kafka.FlushFrequency = other.Kafka.FlushFrequency
	}
	if other.Kafka.FlushMessages != 0 {
		w.Kafka.FlushMessages = other.Kafka.FlushMessages
	}
	if other.Kafka.Timeout != 0 {
		w.Kafka.Timeout = other.Kafka.Timeout
	}
	w.Kafka.EnableTLS = other.Kafka.EnableTLS
	if other.Kafka.TLSCertFile != "" {
		w.Kafka.TLSCertFile = other.Kafka.TLSCertFile
	}
	if other.Kafka.TLSKeyFile != "" {
		w.Kafka.TLSKeyFile = other.Kafka.TLSKeyFile
	}
	if other.Kafka.TLSCAFile != "" {
		w.Kafka.TLSCAFile = other.Kafka.TLSCAFile
	}
	w.Kafka.SASLEnabled = other.Kafka.SASLEnabled
	if other.Kafka.SASLMechanism != "" {
		w.Kafka.SASLMechanism = other.Kafka.SASLMechanism
	}
	if other.Kafka.SASLUser != "" {
		w.Kafka.SASLUser = other.Kafka.SASLUser
	}
	if other.Kafka.SASLPassword != "" {
		w.Kafka.SASLPassword = other.Kafka.SASLPassword
	}

	// Merge Redis config
	if other.Redis.Address != "" {
		w.Redis.Address = other.Redis.Address
	}
	if other.Redis.Password != "" {
		w.Redis.Password = other.Redis.Password
	}
	if other.Redis.DB != 0 {
		w.Redis.DB = other.Redis.DB
	}
	if other.Redis.Key != "" {
		w.Redis.Key = other.Redis.Key
	}
	if other.Redis.TTL != 0 {
		w.Redis.TTL = other.Redis.TTL
	}

	// Merge SOCKS proxy config
	if other.SOCKSProxy.Host != "" {
		w.SOCKSProxy.Host = other.SOCKSProxy.Host
	}
	if other.SOCKSProxy.Port != 0 {
		w.SOCKSProxy.Port = other.SOCKSProxy.Port
	}
}
