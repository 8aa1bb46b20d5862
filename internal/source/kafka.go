package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
)

// kafkaIdleTimeout ends a partition read that has gone quiet
const kafkaIdleTimeout = 500 * time.Millisecond

// Kafka reads lines a log shipper produced to a topic. Messages keyed with
// the service name, or not keyed at all, belong to the service
type Kafka struct {
	brokers []string
	topic   string
	service string
	config  *sarama.Config

	mu     sync.Mutex
	client sarama.Client
}

// NewKafka creates a Kafka backend. Brokers are contacted on first use
func NewKafka(cfg *config.KafkaConfig, service string) (*Kafka, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Consumer.Return.Errors = true

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka version: %w", err)
		}
		saramaConfig.Version = version
	}

	return &Kafka{
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
		service: service,
		config:  saramaConfig,
	}, nil
}

// Name implements Backend
func (k *Kafka) Name() string {
	return "kafka"
}

func (k *Kafka) getClient() (sarama.Client, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.client != nil && !k.client.Closed() {
		return k.client, nil
	}

	client, err := sarama.NewClient(k.brokers, k.config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	k.client = client
	return client, nil
}

// Tail implements Backend. Each partition is read from n messages before
// its high-water mark
func (k *Kafka) Tail(ctx context.Context, n int) ([]string, error) {
	client, err := k.getClient()
	if err != nil {
		return nil, err
	}

	partitions, err := client.Partitions(k.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", k.topic, err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer consumer.Close()

	var messages []*sarama.ConsumerMessage
	for _, partition := range partitions {
		msgs, err := k.readPartition(ctx, client, consumer, partition, int64(n))
		if err != nil {
			return nil, err
		}
		messages = append(messages, msgs...)
	}

	return newestForService(messages, k.service, n), nil
}

func (k *Kafka) readPartition(ctx context.Context, client sarama.Client, consumer sarama.Consumer, partition int32, n int64) ([]*sarama.ConsumerMessage, error) {
	newest, err := client.GetOffset(k.topic, partition, sarama.OffsetNewest)
	if err != nil {
		return nil, fmt.Errorf("failed to get newest offset: %w", err)
	}
	oldest, err := client.GetOffset(k.topic, partition, sarama.OffsetOldest)
	if err != nil {
		return nil, fmt.Errorf("failed to get oldest offset: %w", err)
	}
	if newest <= oldest {
		return nil, nil
	}

	start := newest - n
	if start < oldest {
		start = oldest
	}

	pc, err := consumer.ConsumePartition(k.topic, partition, start)
	if err != nil {
		return nil, fmt.Errorf("failed to consume partition %d: %w", partition, err)
	}
	defer pc.Close()

	return drainPartition(ctx, pc, newest, kafkaIdleTimeout)
}

// partitionReader is the part of sarama.PartitionConsumer drainPartition uses
type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	HighWaterMarkOffset() int64
}

// drainPartition collects messages up to the offset before newest. Control
// records and compacted offsets are never delivered, so reading also ends
// at the current high-water mark or once the partition has been idle
func drainPartition(ctx context.Context, pc partitionReader, newest int64, idle time.Duration) ([]*sarama.ConsumerMessage, error) {
	timer := time.NewTimer(idle)
	defer timer.Stop()

	var messages []*sarama.ConsumerMessage
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-pc.Messages():
			if !ok {
				return messages, nil
			}
			messages = append(messages, msg)
			if msg.Offset >= newest-1 || msg.Offset >= pc.HighWaterMarkOffset()-1 {
				return messages, nil
			}
			timer.Reset(idle)
		case err, ok := <-pc.Errors():
			if !ok {
				return messages, nil
			}
			return nil, fmt.Errorf("failed to read partition %d: %w", err.Partition, err)
		case <-timer.C:
			return messages, nil
		}
	}
}

// newestForService keeps the service's messages in time order and returns
// the values of the last n
func newestForService(messages []*sarama.ConsumerMessage, service string, n int) []string {
	var owned []*sarama.ConsumerMessage
	for _, msg := range messages {
		if len(msg.Key) == 0 || string(msg.Key) == service {
			owned = append(owned, msg)
		}
	}

	sort.SliceStable(owned, func(i, j int) bool {
		if !owned[i].Timestamp.Equal(owned[j].Timestamp) {
			return owned[i].Timestamp.Before(owned[j].Timestamp)
		}
		if owned[i].Partition != owned[j].Partition {
			return owned[i].Partition < owned[j].Partition
		}
		return owned[i].Offset < owned[j].Offset
	})

	lines := make([]string, 0, len(owned))
	for _, msg := range owned {
		lines = append(lines, SplitLines(string(msg.Value))...)
	}
	return Last(lines, n)
}

// Close releases the Kafka client
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.client == nil {
		return nil
	}
	err := k.client.Close()
	k.client = nil
	return err
}
