package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/adapters/out/memory"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/session"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

var fastRetry = RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

// fakeConn 记录收到的帧和关闭码
type fakeConn struct {
	id     string
	userID atomic.Uint64

	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
}

func newFakeConn(id string, userID uint64) *fakeConn {
	c := &fakeConn{id: id}
	c.userID.Store(userID)
	return c
}

func (c *fakeConn) ID() string             { return c.id }
func (c *fakeConn) UserID() uint64         { return c.userID.Load() }
func (c *fakeConn) BindUser(userID uint64) { c.userID.Store(userID) }

func (c *fakeConn) Info() entity.ConnectionInfo {
	return entity.ConnectionInfo{ID: c.id, UserID: c.UserID(), ClientType: entity.ClientTypeWeb}
}

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var fr entity.Frame
		if err := json.Unmarshal(f, &fr); err == nil {
			names = append(names, fr.Event)
		}
	}
	return names
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, e := range c.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) closeState() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

// fakeCodec 令牌 -> claims
type fakeCodec struct {
	mu     sync.Mutex
	tokens map[string]out.TokenClaims
}

func newFakeCodec() *fakeCodec {
	return &fakeCodec{tokens: make(map[string]out.TokenClaims)}
}

func (c *fakeCodec) add(token string, userID uint64, exp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[token] = out.TokenClaims{UserID: userID, ExpiresAt: exp}
}

func (c *fakeCodec) Decode(token string) (*out.TokenClaims, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == "" {
		return nil, gwerrors.ErrTokenMissing
	}
	claims, ok := c.tokens[token]
	if !ok {
		return nil, gwerrors.ErrInvalidToken
	}
	return &claims, nil
}

// manualClock 手动触发的定时器
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) session.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Now() time.Time { return c.now }

// fire 触发第 i 个定时器，不管是否已取消
func (c *manualClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.f()
}

func (c *manualClock) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// flakyStore 在内存存储外面注入失败
type flakyStore struct {
	*memory.PresenceStore
	failMembers atomic.Int32 // 剩余失败次数，<0 表示一直失败
	calls       atomic.Int32
}

var errStoreDown = errors.New("connection refused")

func (s *flakyStore) Members(ctx context.Context, scope entity.ScopeKey) ([]uint64, error) {
	s.calls.Add(1)
	n := s.failMembers.Load()
	if n < 0 {
		return nil, errStoreDown
	}
	if n > 0 {
		s.failMembers.Add(-1)
		return nil, errStoreDown
	}
	return s.PresenceStore.Members(ctx, scope)
}

// countingMembership 统计成员关系查询次数
type countingMembership struct {
	out.MembershipRepository
	guildCalls atomic.Int32
}

func (m *countingMembership) GuildIDsForUser(ctx context.Context, userID uint64) ([]uint64, error) {
	m.guildCalls.Add(1)
	return m.MembershipRepository.GuildIDsForUser(ctx, userID)
}

// chanPublisher 把事件写进 channel
type chanPublisher struct {
	ch chan *entity.PresenceEvent
}

func (p *chanPublisher) PublishPresenceChange(_ context.Context, ev *entity.PresenceEvent) error {
	p.ch <- ev
	return nil
}

func (p *chanPublisher) Close() error { return nil }
