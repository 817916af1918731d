package messaging

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"greasetrack/config"
)

// KafkaPublisher writes each message to the topic named by the outbox row.
type KafkaPublisher struct {
	writer    *kafka.Writer
	brokers   []string
	connected atomic.Bool
	log       *zap.Logger
}

func NewKafkaPublisher(cfg *config.KafkaConfig, log *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	p := &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
		brokers: cfg.Brokers,
		log:     log,
	}
	p.connected.Store(p.probe())
	return p, nil
}

func (p *KafkaPublisher) probe() bool {
	conn, err := net.DialTimeout("tcp", p.brokers[0], 3*time.Second)
	if err != nil {
		p.log.Warn("messaging: kafka broker unreachable", zap.String("broker", p.brokers[0]), zap.Error(err))
		return false
	}
	conn.Close()
	return true
}

// KafkaTopic maps an MQTT style topic to a legal Kafka topic name.
func KafkaTopic(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// Publish keys messages by topic so one type stays ordered on one partition.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	topic = KafkaTopic(topic)
	err := p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(topic), Value: data})
	p.connected.Store(err == nil)
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) IsConnected() bool { return p.connected.Load() }

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
