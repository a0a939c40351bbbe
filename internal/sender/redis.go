package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"svcregistry/internal/config"
	"svcregistry/internal/logger"
	"svcregistry/internal/network"
	"svcregistry/internal/scanner"
)

// RedisSender keeps the latest snapshot of a host in Redis.
//
// The envelope JSON is stored at <Key>:<hostname> and a hash of
// "service@domain" to status at <Key>:<hostname>:status. Both keys are
// replaced atomically and expire after TTL.
type RedisSender struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	host   network.HostInfo
	mu     sync.Mutex
	closed bool
}

// NewRedisSender creates a Redis sender, dialing through the SOCKS proxy when
// one is configured.
func NewRedisSender(cfg config.RedisConfig, socksCfg config.SOCKSConfig, host network.HostInfo) (*RedisSender, error) {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	dial, err := network.ContextDialer(socksCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for Redis: %w", err)
	}
	if dial != nil {
		opts.Dialer = dial
	}

	log := logger.WithComponent("redis-sender")
	log.Info().
		Str("address", cfg.Address).
		Int("db", cfg.DB).
		Str("key", cfg.Key).
		Dur("ttl", cfg.TTL).
		Msg("RedisSender initialized")

	return &RedisSender{
		client: redis.NewClient(opts),
		key:    cfg.Key,
		ttl:    cfg.TTL,
		host:   host,
	}, nil
}

// SnapshotKey returns the key holding the envelope JSON.
func (s *RedisSender) SnapshotKey() string {
	return fmt.Sprintf("%s:%s", s.key, s.host.Hostname)
}

// StatusKey returns the key of the status hash.
func (s *RedisSender) StatusKey() string {
	return s.SnapshotKey() + ":status"
}

// Send replaces the stored snapshot.
func (s *RedisSender) Send(ctx context.Context, snap *scanner.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}

	jsonData, err := json.Marshal(NewEnvelope(s.host, snap))
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	statuses := make(map[string]interface{}, len(snap.Records))
	for _, r := range snap.Records {
		statuses[r.Service+"@"+r.Domain] = r.Status
	}

	snapshotKey, statusKey := s.SnapshotKey(), s.StatusKey()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, snapshotKey, jsonData, s.ttl)
		pipe.Del(ctx, statusKey)
		if len(statuses) > 0 {
			pipe.HSet(ctx, statusKey, statuses)
			if s.ttl > 0 {
				pipe.Expire(ctx, statusKey, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update %s in Redis: %w", snapshotKey, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
