package sender

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"hash"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"svcregistry/internal/config"
	"svcregistry/internal/logger"
	"svcregistry/internal/network"
	"svcregistry/internal/scanner"
)

var (
	// SHA256 hash generator for SCRAM-SHA-256
	SHA256 scram.HashGeneratorFcn = func() hash.Hash { return sha256.New() }
	// SHA512 hash generator for SCRAM-SHA-512
	SHA512 scram.HashGeneratorFcn = func() hash.Hash { return sha512.New() }
)

// XDGSCRAMClient implements sarama.SCRAMClient for SCRAM authentication.
type XDGSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	HashGeneratorFcn scram.HashGeneratorFcn
}

// Begin starts the SCRAM authentication.
func (x *XDGSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

// Step processes the server challenge.
func (x *XDGSCRAMClient) Step(challenge string) (response string, err error) {
	return x.ClientConversation.Step(challenge)
}

// Done returns true if the conversation is complete.
func (x *XDGSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}

// KafkaSender publishes snapshots to a Kafka topic, one message per
// snapshot keyed by hostname.
type KafkaSender struct {
	producer sarama.AsyncProducer
	topic    string
	host     network.HostInfo
	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
}

// kafkaVersion is the lowest broker version that accepts zstd and record
// headers.
var kafkaVersion = sarama.V2_1_0_0

var compressionCodecs = map[string]sarama.CompressionCodec{
	"":       sarama.CompressionSnappy,
	"snappy": sarama.CompressionSnappy,
	"none":   sarama.CompressionNone,
	"gzip":   sarama.CompressionGZIP,
	"lz4":    sarama.CompressionLZ4,
	"zstd":   sarama.CompressionZSTD,
}

var scramHashes = map[string]struct {
	mechanism sarama.SASLMechanism
	hash      scram.HashGeneratorFcn
}{
	"SCRAM-SHA-256": {sarama.SASLTypeSCRAMSHA256, SHA256},
	"SCRAM-SHA-512": {sarama.SASLTypeSCRAMSHA512, SHA512},
}

// NewSaramaConfig translates cfg into a producer configuration.
func NewSaramaConfig(cfg config.KafkaConfig, socksCfg config.SOCKSConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Version = kafkaVersion
	sc.ClientID = "svcscan"

	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Retry.Backoff = cfg.RetryBackoff
	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	// Snapshots of large hosts exceed the 1MB default.
	sc.Producer.MaxMessageBytes = 8 * 1024 * 1024

	codec, ok := compressionCodecs[strings.ToLower(cfg.Compression)]
	if !ok {
		return nil, fmt.Errorf("unknown Kafka compression %q", cfg.Compression)
	}
	sc.Producer.Compression = codec

	switch cfg.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}

	if cfg.Timeout > 0 {
		sc.Net.DialTimeout = cfg.Timeout
		sc.Net.ReadTimeout = cfg.Timeout
		sc.Net.WriteTimeout = cfg.Timeout
	}

	if cfg.EnableTLS {
		tlsConfig, err := createTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tlsConfig
	}

	if cfg.SASLEnabled {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = cfg.SASLUser
		sc.Net.SASL.Password = cfg.SASLPassword

		mech := strings.ToUpper(cfg.SASLMechanism)
		if h, ok := scramHashes[mech]; ok {
			hash := h.hash
			sc.Net.SASL.Mechanism = h.mechanism
			sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &XDGSCRAMClient{HashGeneratorFcn: hash}
			}
		} else if mech == "" || mech == sarama.SASLTypePlaintext {
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		} else {
			return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.SASLMechanism)
		}
	}

	socksDialer, err := network.SOCKS5Dialer(socksCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for Kafka: %w", err)
	}
	if socksDialer != nil {
		sc.Net.Proxy.Enable = true
		sc.Net.Proxy.Dialer = socksDialer
	}

	return sc, nil
}

// NewKafkaSender creates a new Kafka sender with the given configuration.
func NewKafkaSender(cfg config.KafkaConfig, socksCfg config.SOCKSConfig, host network.HostInfo) (*KafkaSender, error) {
	saramaConfig, err := NewSaramaConfig(cfg, socksCfg)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewKafkaSenderWithProducer(producer, cfg.Topic, host), nil
}

// NewKafkaSenderWithProducer wraps an existing producer. The sender takes
// ownership and closes it on Close.
func NewKafkaSenderWithProducer(producer sarama.AsyncProducer, topic string, host network.HostInfo) *KafkaSender {
	s := &KafkaSender{
		producer: producer,
		topic:    topic,
		host:     host,
		done:     make(chan struct{}),
	}
	go s.handleErrors()
	return s
}

// Send publishes one snapshot. The message carries headers so consumers
// can route without decoding the body.
func (s *KafkaSender) Send(ctx context.Context, snap *scanner.Snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSenderClosed
	}

	env := NewEnvelope(s.host, snap)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     s.topic,
		Value:     sarama.ByteEncoder(body),
		Timestamp: snap.TakenAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte("host"), Value: []byte(s.host.Hostname)},
			{Key: []byte("records"), Value: []byte(strconv.Itoa(env.Summary.Total))},
			{Key: []byte("degraded"), Value: []byte(strconv.FormatBool(snap.Degraded()))},
		},
	}
	if s.host.Hostname != "" {
		msg.Key = sarama.StringEncoder(s.host.Hostname)
	}

	select {
	case s.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the Kafka producer and waits for pending errors to be logged.
func (s *KafkaSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	err := s.producer.Close()
	<-s.done
	return err
}

func (s *KafkaSender) handleErrors() {
	defer close(s.done)
	log := logger.WithComponent("kafka-sender")
	for err := range s.producer.Errors() {
		log.Error().Err(err.Err).
			Str("topic", err.Msg.Topic).
			Interface("key", err.Msg.Key).
			Msg("Failed to send snapshot to Kafka")
	}
}

func createTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
