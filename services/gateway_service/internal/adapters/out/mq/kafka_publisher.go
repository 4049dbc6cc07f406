package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPresencePublisher 把上线/下线写成 user.presence 领域事件，经事件 topic 回流到各个网关实例
type KafkaPresencePublisher struct {
	writer messageWriter
	topic  string
}

var _ out.EventPublisher = (*KafkaPresencePublisher)(nil)

// NewKafkaWriter 创建 kafka-go 写入器
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        false,
	}
}

// NewKafkaPresencePublisher topic 为空时使用 TopicGatewayEvents
func NewKafkaPresencePublisher(w messageWriter, topic string) *KafkaPresencePublisher {
	if topic == "" {
		topic = TopicGatewayEvents
	}
	return &KafkaPresencePublisher{writer: w, topic: topic}
}

func (p *KafkaPresencePublisher) PublishPresenceChange(ctx context.Context, event *entity.PresenceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal presence event failed: %w", err)
	}
	value, err := json.Marshal(entity.Event{
		Name:   entity.EventUserPresence,
		UserID: event.UserID,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("marshal presence envelope failed: %w", err)
	}

	key := strconv.FormatUint(event.UserID, 10)
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(entity.EventUserPresence)},
			{Key: "timestamp", Value: []byte(event.Timestamp.UTC().Format(time.RFC3339))},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish presence event failed: %w", err)
	}
	return nil
}

func (p *KafkaPresencePublisher) Close() error {
	return p.writer.Close()
}
