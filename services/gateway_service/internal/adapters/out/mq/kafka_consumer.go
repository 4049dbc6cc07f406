package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/pkg/zlog"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/in"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

const (
	// 领域事件，消息体为 entity.Event 的 JSON
	TopicGatewayEvents = "im.gateway.events"
	// 身份服务为某个会话重新签发的令牌
	TopicGatewaySession = "im.gateway.session"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	EventsTopic  string
	SessionTopic string
	OffsetNewest bool
	KafkaVersion string
}

// KafkaEventConsumer Kafka事件消费者
//
// 投递是 at-most-once：消息处理完无论成败都会提交位点，不做重放。
type KafkaEventConsumer struct {
	consumerGroup sarama.ConsumerGroup
	topics        []string
	handler       *consumerGroupHandler
	cancel        context.CancelFunc
	done          chan struct{}
}

var _ out.EventConsumer = (*KafkaEventConsumer)(nil)

// NewKafkaEventConsumer 创建Kafka事件消费者
func NewKafkaEventConsumer(cfg ConsumerConfig, router in.RouterUseCase) (*KafkaEventConsumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	if cfg.KafkaVersion != "" {
		v, err := sarama.ParseKafkaVersion(cfg.KafkaVersion)
		if err != nil {
			return nil, fmt.Errorf("parse kafka version: %w", err)
		}
		config.Version = v
	}
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	if cfg.OffsetNewest {
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	config.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}

	eventsTopic, sessionTopic := cfg.EventsTopic, cfg.SessionTopic
	if eventsTopic == "" {
		eventsTopic = TopicGatewayEvents
	}
	if sessionTopic == "" {
		sessionTopic = TopicGatewaySession
	}

	return &KafkaEventConsumer{
		consumerGroup: consumerGroup,
		topics:        []string{eventsTopic, sessionTopic},
		handler:       newConsumerGroupHandler(router, eventsTopic, sessionTopic),
		done:          make(chan struct{}),
	}, nil
}

// Start 启动消费，立即返回
func (c *KafkaEventConsumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		for err := range c.consumerGroup.Errors() {
			zlog.Warn("Kafka 消费错误", zlog.Err(err))
		}
	}()

	go func() {
		defer close(c.done)
		for {
			if err := c.consumerGroup.Consume(ctx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				zlog.Error("Kafka 消费组异常", zlog.Err(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	zlog.Info("Kafka 消费者已启动", zlog.Any("topics", c.topics))
	return nil
}

// Stop 停止消费
func (c *KafkaEventConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.consumerGroup.Close()
	if c.cancel != nil {
		<-c.done
	}
	return err
}

// consumerGroupHandler 消费组处理器
type consumerGroupHandler struct {
	router       in.RouterUseCase
	eventsTopic  string
	sessionTopic string
}

func newConsumerGroupHandler(router in.RouterUseCase, eventsTopic, sessionTopic string) *consumerGroupHandler {
	return &consumerGroupHandler{router: router, eventsTopic: eventsTopic, sessionTopic: sessionTopic}
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 同一分区内按顺序处理，保证单连接的投递顺序
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handleMessage(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// sessionTokenMessage 会话令牌更新
type sessionTokenMessage struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

func (h *consumerGroupHandler) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	ev, err := h.decode(message)
	if err != nil {
		zlog.Warn("无法解析的事件，丢弃",
			zlog.String("topic", message.Topic), zlog.Int("partition", int(message.Partition)), zlog.Err(err))
		return
	}

	res, err := h.router.Route(ctx, ev)
	if err != nil {
		level := zlog.Warn
		if errors.Is(err, gwerrors.ErrNotFound) {
			level = zlog.Info
		}
		level("事件分发失败", zlog.Event(ev.Name), zlog.Err(err))
		return
	}
	zlog.Debug("事件已分发", zlog.Event(ev.Name),
		zlog.Int("recipients", res.Recipients), zlog.Int("delivered", res.Delivered))
}

func (h *consumerGroupHandler) decode(message *sarama.ConsumerMessage) (*entity.Event, error) {
	switch message.Topic {
	case h.eventsTopic:
		var ev entity.Event
		if err := json.Unmarshal(message.Value, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	case h.sessionTopic:
		var m sessionTokenMessage
		if err := json.Unmarshal(message.Value, &m); err != nil {
			return nil, err
		}
		data, err := json.Marshal(entity.SessionTokenPayload{Token: m.Token})
		if err != nil {
			return nil, err
		}
		return &entity.Event{Name: entity.EventSessionToken, SessionID: m.SessionID, Data: data}, nil
	default:
		return nil, fmt.Errorf("%w: topic %s", gwerrors.ErrUnknownEvent, message.Topic)
	}
}
