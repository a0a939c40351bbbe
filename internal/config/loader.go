package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"svcregistry/internal/logger"
)

// rawConfig is used for JSON unmarshaling with duration strings. Pointer
// fields distinguish "absent" from a zero value.
type rawConfig struct {
	Domains      []string           `json:"Domains"`
	UID          *int               `json:"UID"`
	HomeDir      string             `json:"HomeDir"`
	ExtraDirs    []DirConfig        `json:"ExtraDirs"`
	Workers      int                `json:"Workers"`
	MaxDepth     int                `json:"MaxDepth"`
	QueryTimeout string             `json:"QueryTimeout"`
	ProcessTable *bool              `json:"ProcessTable"`
	Launchctl    rawLaunchctlConfig `json:"Launchctl"`
}

type rawLaunchctlConfig struct {
	Enabled *bool  `json:"Enabled"`
	Path    string `json:"Path"`
	Timeout string `json:"Timeout"`
}

type rawWatchConfig struct {
	Interval   string         `json:"Interval"`
	WatchDirs  *bool          `json:"WatchDirs"`
	Debounce   string         `json:"Debounce"`
	SenderType string         `json:"SenderType"`
	File       FileConfig     `json:"File"`
	Kafka      rawKafkaConfig `json:"Kafka"`
	Redis      rawRedisConfig `json:"Redis"`
	SOCKSProxy SOCKSConfig    `json:"SocksProxy"`
}

type rawKafkaConfig struct {
	Brokers        []string `json:"Brokers"`
	Topic          string   `json:"Topic"`
	Compression    string   `json:"Compression"`
	RequiredAcks   int      `json:"RequiredAcks"`
	MaxRetries     int      `json:"MaxRetries"`
	RetryBackoff   string   `json:"RetryBackoff"`
	FlushFrequency string   `json:"FlushFrequency"`
	FlushMessages  int      `json:"FlushMessages"`
	Timeout        string   `json:"Timeout"`
	EnableTLS      bool     `json:"EnableTLS"`
	TLSCertFile    string   `json:"TLSCertFile"`
	TLSKeyFile     string   `json:"TLSKeyFile"`
	TLSCAFile      string   `json:"TLSCAFile"`
	SASLEnabled    bool     `json:"SASLEnabled"`
	SASLMechanism  string   `json:"SASLMechanism"`
	SASLUser       string   `json:"SASLUser"`
	SASLPassword   string   `json:"SASLPassword"`
}

type rawRedisConfig struct {
	Address  string `json:"Address"`
	Password string `json:"Password"`
	DB       int    `json:"DB"`
	Key      string `json:"Key"`
	TTL      string `json:"TTL"`
}

type rawLoggingConfig struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
	Format     string `json:"Format"`
}

// readOptional returns the file contents, or nil when the file does not
// exist.
func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	return d, nil
}

// Load reads scanner configuration from path. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	data, err := readOptional(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if data == nil {
		return DefaultConfig(), nil
	}
	return Parse(data)
}

// Parse parses scanner configuration from JSON bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg := DefaultConfig()
	parsed, err := convertRawConfig(&raw)
	if err != nil {
		return nil, err
	}
	cfg.Merge(parsed)

	if raw.UID != nil {
		cfg.UID = *raw.UID
	}
	if raw.ProcessTable != nil {
		cfg.ProcessTable = *raw.ProcessTable
	}
	if raw.Launchctl.Enabled != nil {
		cfg.Launchctl.Enabled = *raw.Launchctl.Enabled
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func convertRawConfig(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		Domains:   raw.Domains,
		HomeDir:   raw.HomeDir,
		ExtraDirs: raw.ExtraDirs,
		Workers:   raw.Workers,
		MaxDepth:  raw.MaxDepth,
		Launchctl: LaunchctlConfig{Path: raw.Launchctl.Path},
	}

	var err error
	if cfg.QueryTimeout, err = parseDuration("QueryTimeout", raw.QueryTimeout); err != nil {
		return nil, err
	}
	if cfg.Launchctl.Timeout, err = parseDuration("Launchctl.Timeout", raw.Launchctl.Timeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWatch reads watch configuration from path. A missing file yields the
// defaults.
func LoadWatch(path string) (*WatchConfig, error) {
	data, err := readOptional(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watch config file: %w", err)
	}
	if data == nil {
		return DefaultWatchConfig(), nil
	}
	return ParseWatch(data)
}

// ParseWatch parses watch configuration from JSON bytes.
func ParseWatch(data []byte) (*WatchConfig, error) {
	var raw rawWatchConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse watch config JSON: %w", err)
	}

	wc := DefaultWatchConfig()
	parsed, err := convertRawWatch(&raw)
	if err != nil {
		return nil, err
	}
	wc.Merge(parsed)
	if raw.WatchDirs != nil {
		wc.WatchDirs = *raw.WatchDirs
	}

	switch wc.SenderType {
	case "file", "kafka", "redis":
	default:
		return nil, fmt.Errorf("unknown SenderType %q (supported: file, kafka, redis)", wc.SenderType)
	}
	return wc, nil
}

func convertRawWatch(raw *rawWatchConfig) (*WatchConfig, error) {
	wc := &WatchConfig{
		SenderType: raw.SenderType,
		File:       raw.File,
		SOCKSProxy: raw.SOCKSProxy,
		Redis: RedisConfig{
			Address:  raw.Redis.Address,
			Password: raw.Redis.Password,
			DB:       raw.Redis.DB,
			Key:      raw.Redis.Key,
		},
	}

	var err error
	if wc.Interval, err = parseDuration("Interval", raw.Interval); err != nil {
		return nil, err
	}
	if wc.Debounce, err = parseDuration("Debounce", raw.Debounce); err != nil {
		return nil, err
	}
	if wc.Redis.TTL, err = parseDuration("Redis.TTL", raw.Redis.TTL); err != nil {
		return nil, err
	}

	kafka, err := convertRawKafka(&raw.Kafka)
	if err != nil {
		return nil, err
	}
	wc.Kafka = *kafka
	return wc, nil
}

func convertRawKafka(raw *rawKafkaConfig) (*KafkaConfig, error) {
	kafka := &KafkaConfig{
		Brokers:       raw.Brokers,
		Topic:         raw.Topic,
		Compression:   raw.Compression,
		RequiredAcks:  raw.RequiredAcks,
		MaxRetries:    raw.MaxRetries,
		FlushMessages: raw.FlushMessages,
		EnableTLS:     raw.EnableTLS,
		TLSCertFile:   raw.TLSCertFile,
		TLSKeyFile:    raw.TLSKeyFile,
		TLSCAFile:     raw.TLSCAFile,
		SASLEnabled:   raw.SASLEnabled,
		SASLMechanism: raw.SASLMechanism,
		SASLUser:      raw.SASLUser,
		SASLPassword:  raw.SASLPassword,
	}

	var err error
	if kafka.RetryBackoff, err = parseDuration("RetryBackoff", raw.RetryBackoff); err != nil {
		return nil, err
	}
	if kafka.FlushFrequency, err = parseDuration("FlushFrequency", raw.FlushFrequency); err != nil {
		return nil, err
	}
	if kafka.Timeout, err = parseDuration("Timeout", raw.Timeout); err != nil {
		return nil, err
	}
	return kafka, nil
}

func convertRawLogging(raw *rawLoggingConfig) logger.Config {
	return logger.Config{
		Level:      raw.Level,
		FilePath:   raw.FilePath,
		MaxSizeMB:  raw.MaxSizeMB,
		MaxBackups: raw.MaxBackups,
		MaxAgeDays: raw.MaxAgeDays,
		Compress:   raw.Compress,
		Console:    raw.Console,
		Format:     raw.Format,
	}
}

// LoadLogging reads logging configuration from path. A missing file yields
// logger.DefaultConfig.
func LoadLogging(path string) (*logger.Config, error) {
	data, err := readOptional(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config file: %w", err)
	}
	if data == nil {
		def := logger.DefaultConfig()
		return &def, nil
	}
	return ParseLogging(data)
}

// ParseLogging parses logging configuration from JSON bytes.
func ParseLogging(data []byte) (*logger.Config, error) {
	var raw rawLoggingConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse logging config JSON: %w", err)
	}

	def := logger.DefaultConfig()
	parsed := convertRawLogging(&raw)

	// Merge: apply non-zero parsed values over defaults
	if parsed.Level != "" {
		def.Level = parsed.Level
	}
	if parsed.FilePath != "" {
		def.FilePath = parsed.FilePath
	}
	if parsed.MaxSizeMB != 0 {
		def.MaxSizeMB = parsed.MaxSizeMB
	}
	if parsed.MaxBackups != 0 {
		def.MaxBackups = parsed.MaxBackups
	}
	if parsed.MaxAgeDays != 0 {
		def.MaxAgeDays = parsed.MaxAgeDays
	}
	if parsed.Format != "" {
		def.Format = parsed.Format
	}
	def.Compress = parsed.Compress
	def.Console = parsed.Console

	return &def, nil
}

// LoadSplit loads configuration from three separate files:
// scannerPath (Scanner.json), watchPath (Watch.json), loggingPath (Logging.json).
func LoadSplit(scannerPath, watchPath, loggingPath string) (*Config, *WatchConfig, *logger.Config, error) {
	cfg, err := Load(scannerPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	wc, err := LoadWatch(watchPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load watch config: %w", err)
	}

	lc, err := LoadLogging(loggingPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load logging config: %w", err)
	}

	return cfg, wc, lc, nil
}
