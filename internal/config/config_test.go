package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- Default Config Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Domains) != 3 {
		t.Errorf("expected 3 default domains, got %v", cfg.Domains)
	}
	if cfg.UID != CurrentUser {
		t.Errorf("expected UID=CurrentUser, got %d", cfg.UID)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected Workers=8, got %d", cfg.Workers)
	}
	if !cfg.Launchctl.Enabled || cfg.Launchctl.Path != "/bin/launchctl" {
		t.Errorf("unexpected launchctl defaults: %+v", cfg.Launchctl)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestDefaultWatchConfig(t *testing.T) {
	wc := DefaultWatchConfig()

	if wc.SenderType != "file" {
		t.Errorf("expected SenderType=file, got %q", wc.SenderType)
	}
	if wc.Interval != 5*time.Minute {
		t.Errorf("expected Interval=5m, got %v", wc.Interval)
	}
	if !wc.WatchDirs {
		t.Error("expected WatchDirs=true")
	}
	if wc.Redis.Key == "" {
		t.Error("expected a default Redis key")
	}
}

// --- Parse Tests ---

func TestParse_DurationsAndPointers(t *testing.T) {
	input := `{
		"Domains": ["system", "user"],
		"UID": 0,
		"Workers": 2,
		"QueryTimeout": "5s",
		"ProcessTable": false,
		"Launchctl": {"Enabled": false, "Timeout": "1500ms"}
	}`

	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.UID != 0 {
		t.Errorf("expected explicit UID=0, got %d", cfg.UID)
	}
	if cfg.Workers != 2 {
		t.Errorf("expected Workers=2, got %d", cfg.Workers)
	}
	if cfg.QueryTimeout != 5*time.Second {
		t.Errorf("expected QueryTimeout=5s, got %v", cfg.QueryTimeout)
	}
	if cfg.ProcessTable {
		t.Error("expected ProcessTable=false")
	}
	if cfg.Launchctl.Enabled {
		t.Error("expected Launchctl.Enabled=false")
	}
	if cfg.Launchctl.Timeout != 1500*time.Millisecond {
		t.Errorf("expected Launchctl.Timeout=1.5s, got %v", cfg.Launchctl.Timeout)
	}
	if cfg.Launchctl.Path != "/bin/launchctl" {
		t.Errorf("expected default launchctl path kept, got %q", cfg.Launchctl.Path)
	}
	if cfg.HasDomain(DomainGlobal) {
		t.Error("global domain should be disabled")
	}
}

func TestParse_AbsentFieldsKeepDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	def := DefaultConfig()
	if cfg.UID != def.UID || cfg.ProcessTable != def.ProcessTable || cfg.Launchctl.Enabled != def.Launchctl.Enabled {
		t.Errorf("absent fields overwrote defaults: %+v", cfg)
	}
	if cfg.MaxDepth != def.MaxDepth {
		t.Errorf("expected MaxDepth=%d, got %d", def.MaxDepth, cfg.MaxDepth)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad json", `{`},
		{"bad duration", `{"QueryTimeout": "soon"}`},
		{"unknown domain", `{"Domains": ["pid"]}`},
		{"extra dir without path", `{"ExtraDirs": [{"Domain": "global"}]}`},
		{"extra dir bad kind", `{"ExtraDirs": [{"Path": "/x", "Domain": "global", "Kind": "service"}]}`},
		{"negative workers", `{"Workers": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.input)); err == nil {
				t.Errorf("Parse(%s) succeeded, want error", tt.input)
			}
		})
	}
}

func TestParseWatch(t *testing.T) {
	input := `{
		"Interval": "30s",
		"WatchDirs": false,
		"SenderType": "redis",
		"Redis": {"Address": "10.0.0.5:6379", "DB": 3, "TTL": "10m"},
		"Kafka": {"Brokers": ["k1:9092"], "RetryBackoff": "250ms"},
		"SocksProxy": {"Host": "proxy", "Port": 1080}
	}`

	wc, err := ParseWatch([]byte(input))
	if err != nil {
		t.Fatalf("ParseWatch failed: %v", err)
	}
	if wc.Interval != 30*time.Second {
		t.Errorf("expected Interval=30s, got %v", wc.Interval)
	}
	if wc.WatchDirs {
		t.Error("expected WatchDirs=false")
	}
	if wc.Redis.Address != "10.0.0.5:6379" || wc.Redis.DB != 3 || wc.Redis.TTL != 10*time.Minute {
		t.Errorf("unexpected redis config: %+v", wc.Redis)
	}
	if wc.Redis.Key != "svcscan:snapshot" {
		t.Errorf("expected default redis key kept, got %q", wc.Redis.Key)
	}
	if len(wc.Kafka.Brokers) != 1 || wc.Kafka.RetryBackoff != 250*time.Millisecond {
		t.Errorf("unexpected kafka config: %+v", wc.Kafka)
	}
	if wc.Kafka.Topic != "service-registry" {
		t.Errorf("expected default topic kept, got %q", wc.Kafka.Topic)
	}
	if wc.SOCKSProxy.Host != "proxy" || wc.SOCKSProxy.Port != 1080 {
		t.Errorf("unexpected socks config: %+v", wc.SOCKSProxy)
	}
}

func TestParseWatch_UnknownSender(t *testing.T) {
	if _, err := ParseWatch([]byte(`{"SenderType": "kafkarest"}`)); err == nil {
		t.Error("expected error for unsupported sender")
	}
}

func TestMerge_EmptyValuesDoNotOverwrite(t *testing.T) {
	wc := DefaultWatchConfig()
	wc.Merge(&WatchConfig{})

	def := DefaultWatchConfig()
	if wc.Interval != def.Interval || wc.SenderType != def.SenderType || wc.Redis.Address != def.Redis.Address {
		t.Errorf("empty merge changed values: %+v", wc)
	}
	wc.Merge(nil)
}

// --- Logging ---

func TestParseLogging(t *testing.T) {
	lc, err := ParseLogging([]byte(`{"Level": "debug", "Format": "json", "Console": true}`))
	if err != nil {
		t.Fatalf("ParseLogging failed: %v", err)
	}
	if lc.Level != "debug" || lc.Format != "json" || !lc.Console {
		t.Errorf("unexpected logging config: %+v", lc)
	}
	if lc.MaxSizeMB == 0 || lc.FilePath == "" {
		t.Errorf("defaults not applied: %+v", lc)
	}
}

// --- LoadSplit ---

func TestLoadSplit_MissingFilesUseDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, wc, lc, err := LoadSplit(
		filepath.Join(dir, "Scanner.json"),
		filepath.Join(dir, "Watch.json"),
		filepath.Join(dir, "Logging.json"),
	)
	if err != nil {
		t.Fatalf("LoadSplit failed: %v", err)
	}
	if cfg.Workers != DefaultConfig().Workers || wc.SenderType != "file" || lc.Level != "info" {
		t.Errorf("defaults not returned: %+v %+v %+v", cfg, wc, lc)
	}
}

func TestLoadSplit_ReadsFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	cfg, wc, lc, err := LoadSplit(
		write("Scanner.json", `{"Workers": 3}`),
		write("Watch.json", `{"SenderType": "kafka"}`),
		write("Logging.json", `{"Level": "warn"}`),
	)
	if err != nil {
		t.Fatalf("LoadSplit failed: %v", err)
	}
	if cfg.Workers != 3 || wc.SenderType != "kafka" || lc.Level != "warn" {
		t.Errorf("files not applied: %+v %+v %+v", cfg, wc, lc)
	}

	if _, _, _, err := LoadSplit(write("Bad.json", `{"Workers": "x"}`), "", ""); err == nil {
		t.Error("expected error for malformed scanner config")
	}
}
