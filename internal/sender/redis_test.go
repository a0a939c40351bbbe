package sender

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"svcregistry/internal/config"
	"svcregistry/internal/scanner"
)

func newTestRedisSender(t *testing.T, mr *miniredis.Miniredis, ttl time.Duration) *RedisSender {
	t.Helper()
	cfg := config.RedisConfig{Address: mr.Addr(), DB: 2, Key: "svcscan:snapshot", TTL: ttl}
	s, err := NewRedisSender(cfg, config.SOCKSConfig{}, testHost)
	if err != nil {
		t.Fatalf("NewRedisSender failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisSender_Send(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestRedisSender(t, mr, time.Hour)

	if err := s.Send(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mr.Select(2)
	val, err := mr.Get("svcscan:snapshot:mac-01")
	if err != nil {
		t.Fatalf("expected snapshot key in Redis, got error: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		t.Fatalf("stored value is not JSON: %v", err)
	}
	if env.Summary.Total != 3 {
		t.Errorf("expected 3 records, got %+v", env.Summary)
	}

	if got := mr.HGet("svcscan:snapshot:mac-01:status", "com.vendor.b@global"); got != "Running" {
		t.Errorf("status hash com.vendor.b@global = %q, want Running", got)
	}
	if ttl := mr.TTL("svcscan:snapshot:mac-01"); ttl != time.Hour {
		t.Errorf("snapshot TTL = %v, want 1h", ttl)
	}
	if ttl := mr.TTL("svcscan:snapshot:mac-01:status"); ttl != time.Hour {
		t.Errorf("status TTL = %v, want 1h", ttl)
	}
}

func TestRedisSender_ReplacesStatusHash(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestRedisSender(t, mr, 0)

	if err := s.Send(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}

	next := testSnapshot()
	next.Records = next.Records[:1]
	if err := s.Send(context.Background(), next); err != nil {
		t.Fatalf("second Send failed: %v", err)
	}

	mr.Select(2)
	keys, err := mr.HKeys(s.StatusKey())
	if err != nil {
		t.Fatalf("HKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "com.apple.a@system" {
		t.Errorf("status hash keys = %v, want only com.apple.a@system", keys)
	}
	if ttl := mr.TTL(s.SnapshotKey()); ttl != 0 {
		t.Errorf("expected no TTL, got %v", ttl)
	}
}

func TestRedisSender_EmptySnapshotClearsHash(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestRedisSender(t, mr, 0)

	if err := s.Send(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := s.Send(context.Background(), &scanner.Snapshot{TakenAt: fileTestTimestamp}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mr.Select(2)
	if mr.Exists(s.StatusKey()) {
		t.Error("status hash kept after empty snapshot")
	}
	if !mr.Exists(s.SnapshotKey()) {
		t.Error("snapshot key missing after empty snapshot")
	}
}

func TestRedisSender_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestRedisSender(t, mr, 0)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Send(ctx, testSnapshot()); err == nil {
		t.Error("expected error with Redis down")
	}
}

func TestRedisSender_SendAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestRedisSender(t, mr, 0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Send(context.Background(), testSnapshot()); err == nil {
		t.Error("expected error sending on closed sender")
	}
}
