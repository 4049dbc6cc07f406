package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/in"
)

type recordingRouter struct {
	mu     sync.Mutex
	events []*entity.Event
	err    error
}

func (r *recordingRouter) Route(_ context.Context, ev *entity.Event) (in.RouteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return in.RouteResult{Recipients: 1, Delivered: 1}, r.err
}

func TestHandleDomainEvent(t *testing.T) {
	router := &recordingRouter{}
	h := newConsumerGroupHandler(router, TopicGatewayEvents, TopicGatewaySession)

	h.handleMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: TopicGatewayEvents,
		Value: []byte(`{"name":"message.create","guild_id":1,"channel_id":2,"data":{"id":9}}`),
	})

	require.Len(t, router.events, 1)
	ev := router.events[0]
	assert.Equal(t, entity.EventMessageCreate, ev.Name)
	assert.Equal(t, uint64(1), ev.GuildID)
	assert.Equal(t, uint64(2), ev.ChannelID)
	assert.JSONEq(t, `{"id":9}`, string(ev.Data))
}

func TestHandleSessionToken(t *testing.T) {
	router := &recordingRouter{}
	h := newConsumerGroupHandler(router, TopicGatewayEvents, TopicGatewaySession)

	h.handleMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: TopicGatewaySession,
		Value: []byte(`{"session_id":"abc","token":"t2"}`),
	})

	require.Len(t, router.events, 1)
	ev := router.events[0]
	assert.Equal(t, entity.EventSessionToken, ev.Name)
	assert.Equal(t, "abc", ev.SessionID)

	var payload entity.SessionTokenPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	assert.Equal(t, "t2", payload.Token)
}

func TestHandleDropsGarbage(t *testing.T) {
	router := &recordingRouter{err: errors.New("boom")}
	h := newConsumerGroupHandler(router, TopicGatewayEvents, TopicGatewaySession)

	h.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: TopicGatewayEvents, Value: []byte(`{`)})
	h.handleMessage(context.Background(), &sarama.ConsumerMessage{Topic: "other", Value: []byte(`{}`)})
	assert.Empty(t, router.events)

	// 路由失败只记日志
	h.handleMessage(context.Background(), &sarama.ConsumerMessage{
		Topic: TopicGatewayEvents, Value: []byte(`{"name":"guild.update","guild_id":1}`),
	})
	assert.Len(t, router.events, 1)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishPresenceChange(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPresencePublisher(w, "")

	err := p.PublishPresenceChange(context.Background(), &entity.PresenceEvent{
		UserID: 42, Status: entity.PresenceStatusOnline, Timestamp: time.Unix(1_700_000_000, 0),
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, TopicGatewayEvents, msg.Topic)
	assert.Equal(t, "42", string(msg.Key))

	var ev entity.Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, entity.EventUserPresence, ev.Name)
	assert.Equal(t, uint64(42), ev.UserID)

	route, err := ev.Route()
	require.NoError(t, err)
	assert.Equal(t, entity.RouteUser, route.Scope)

	var pe entity.PresenceEvent
	require.NoError(t, json.Unmarshal(ev.Data, &pe))
	assert.Equal(t, entity.PresenceStatusOnline, pe.Status)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishPresenceChangeError(t *testing.T) {
	p := NewKafkaPresencePublisher(&fakeWriter{err: errors.New("no brokers")}, "custom")
	err := p.PublishPresenceChange(context.Background(), &entity.PresenceEvent{UserID: 1, Status: entity.PresenceStatusOffline})
	assert.ErrorContains(t, err, "no brokers")
}
