// Package sender exports scan snapshots to files, Kafka or Redis.
package sender

import (
	"context"
	"errors"

	"svcregistry/internal/scanner"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("sender is closed")

// Sender defines the interface for exporting snapshots.
type Sender interface {
	// Send transmits one snapshot to the destination.
	Send(ctx context.Context, snap *scanner.Snapshot) error

	// Close releases any resources held by the sender.
	Close() error
}
