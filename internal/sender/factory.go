package sender

import (
	"fmt"
	"strings"

	"svcregistry/internal/config"
	"svcregistry/internal/logger"
	"svcregistry/internal/network"
)

// NewSender creates a Sender based on the watch configuration.
func NewSender(wc *config.WatchConfig, host network.HostInfo) (Sender, error) {
	log := logger.WithComponent("sender-factory")

	senderType := strings.ToLower(wc.SenderType)
	if senderType == "" {
		senderType = "file"
	}

	log.Info().
		Str("sender_type", senderType).
		Str("hostname", host.Hostname).
		Msg("Creating sender")

	switch senderType {
	case "kafka":
		return NewKafkaSender(wc.Kafka, wc.SOCKSProxy, host)
	case "redis":
		return NewRedisSender(wc.Redis, wc.SOCKSProxy, host)
	case "file":
		return NewFileSender(wc.File, host)
	default:
		return nil, fmt.Errorf("unknown sender type: %s (supported: file, kafka, redis)", senderType)
	}
}
