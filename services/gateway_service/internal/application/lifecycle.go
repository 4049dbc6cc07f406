package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/pkg/zlog"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/session"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/in"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// ReadyPayload 认证成功后下发
type ReadyPayload struct {
	SessionID string    `json:"session_id"`
	UserID    uint64    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiryPayload 预警与刷新成功时下发
type ExpiryPayload struct {
	ExpiresAt    time.Time `json:"expires_at"`
	GraceSeconds int       `json:"grace_seconds,omitempty"`
}

// LifecycleService 管理每条连接的会话状态机，并把认证、刷新、关闭串到注册表和在线状态上
//
// 会话ID即连接ID。谁把会话从表里摘掉，谁负责清理注册表和在线状态，保证只清理一次。
type LifecycleService struct {
	codec    out.TokenCodec
	registry out.ConnectionRegistry
	presence in.PresenceUseCase
	metrics  out.Metrics
	timing   session.Timing
	opts     []session.Option

	mu       sync.Mutex
	sessions map[string]*session.Session
}

var _ in.LifecycleUseCase = (*LifecycleService)(nil)

// LifecycleOption 配置 LifecycleService
type LifecycleOption func(*LifecycleService)

func WithLifecycleMetrics(m out.Metrics) LifecycleOption {
	return func(l *LifecycleService) { l.metrics = m }
}

// WithSessionOptions 透传给每个会话，测试里用来替换定时器
func WithSessionOptions(opts ...session.Option) LifecycleOption {
	return func(l *LifecycleService) { l.opts = append(l.opts, opts...) }
}

// NewLifecycleService 创建生命周期用例
func NewLifecycleService(
	codec out.TokenCodec,
	registry out.ConnectionRegistry,
	presence in.PresenceUseCase,
	timing session.Timing,
	opts ...LifecycleOption,
) *LifecycleService {
	l := &LifecycleService{
		codec:    codec,
		registry: registry,
		presence: presence,
		metrics:  out.NopMetrics{},
		timing:   timing,
		sessions: make(map[string]*session.Session),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open 校验令牌，通过后注册连接、记录在线并下发 ready
func (l *LifecycleService) Open(ctx context.Context, conn out.Connection, token string) (*session.Session, error) {
	connID := conn.ID()
	s := session.New(connID, l.timing, session.Hooks{
		OnWarning: l.onWarning,
		OnExpired: l.onExpired,
	}, l.opts...)

	claims, err := l.codec.Decode(token)
	if err != nil {
		_ = s.Fail()
		l.metrics.AuthFailed()
		conn.Close(out.CloseAuthFailed, "authentication failed")
		zlog.C(ctx).Info("连接认证失败", zlog.ConnID(connID), zlog.Err(err))
		return nil, err
	}

	conn.BindUser(claims.UserID)
	if err := s.Authenticate(claims.UserID, claims.ExpiresAt); err != nil {
		conn.Close(out.CloseAuthFailed, "authentication failed")
		return nil, err
	}

	// 先登记会话和连接，再装定时器：临期令牌的预警会立即触发
	l.mu.Lock()
	l.sessions[connID] = s
	l.mu.Unlock()
	l.registry.Register(conn)
	l.metrics.ConnectionOpened(string(conn.Info().ClientType))

	ctx = zlog.With(ctx, zlog.ConnID(connID), zlog.UserID(claims.UserID))
	if err := l.presence.OnConnect(ctx, claims.UserID, connID); err != nil {
		// 在线索引写失败不拒绝连接，本实例上的定向投递依然可用
		zlog.C(ctx).Warn("记录在线状态失败", zlog.Err(err))
	}

	if frame, err := entity.NewFrame(entity.EventReady, ReadyPayload{
		SessionID: connID,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt,
	}); err == nil {
		conn.Send(frame)
	}
	s.Arm()
	zlog.C(ctx).Info("连接已认证", zlog.Any("expires_at", claims.ExpiresAt))
	return s, nil
}

// Refresh 用新令牌重排定时器；令牌必须属于同一用户
func (l *LifecycleService) Refresh(ctx context.Context, connID, token string) error {
	s := l.session(connID)
	if s == nil {
		return gwerrors.ErrSessionNotFound
	}

	claims, err := l.codec.Decode(token)
	if err != nil {
		return err
	}
	if claims.UserID != s.UserID() {
		return fmt.Errorf("%w: token belongs to another user", gwerrors.ErrInvalidToken)
	}
	if err := s.Refresh(claims.ExpiresAt); err != nil {
		return err
	}

	if conn, ok := l.registry.Get(connID); ok {
		if frame, err := entity.NewFrame(entity.EventSessionRefreshed, ExpiryPayload{ExpiresAt: claims.ExpiresAt}); err == nil {
			conn.Send(frame)
		}
	}
	zlog.C(ctx).Debug("会话已刷新", zlog.ConnID(connID), zlog.Any("expires_at", claims.ExpiresAt))
	return nil
}

// Close 连接关闭后调用，任意状态都直接进入终态
func (l *LifecycleService) Close(ctx context.Context, connID string) {
	l.teardown(ctx, connID, "closed")
}

// Shutdown 关闭本实例上的全部连接并清理在线状态
func (l *LifecycleService) Shutdown(ctx context.Context) {
	l.mu.Lock()
	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	l.registry.CloseAll(out.CloseGoingAway, "server shutting down")
	for _, id := range ids {
		l.teardown(ctx, id, "shutdown")
	}
}

// SessionCount 当前会话数
func (l *LifecycleService) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *LifecycleService) session(connID string) *session.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[connID]
}

func (l *LifecycleService) take(connID string) *session.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[connID]
	if !ok {
		return nil
	}
	delete(l.sessions, connID)
	return s
}

func (l *LifecycleService) teardown(ctx context.Context, connID, reason string) {
	s := l.take(connID)
	if s == nil {
		return
	}
	s.Close()
	l.registry.Unregister(connID)
	l.metrics.ConnectionClosed(reason)

	userID := s.UserID()
	if err := l.presence.OnDisconnect(ctx, userID, connID); err != nil {
		zlog.C(ctx).Warn("撤销在线状态失败", zlog.ConnID(connID), zlog.UserID(userID), zlog.Err(err))
	}
	zlog.C(ctx).Info("连接已断开", zlog.ConnID(connID), zlog.UserID(userID), zlog.String("reason", reason))
}

func (l *LifecycleService) onWarning(s *session.Session, expiresAt time.Time) {
	conn, ok := l.registry.Get(s.ConnID())
	if !ok {
		return
	}
	frame, err := entity.NewFrame(entity.EventSessionExpiring, ExpiryPayload{
		ExpiresAt:    expiresAt,
		GraceSeconds: int(l.timing.Grace / time.Second),
	})
	if err != nil {
		return
	}
	conn.Send(frame)
}

func (l *LifecycleService) onExpired(s *session.Session) {
	if conn, ok := l.registry.Get(s.ConnID()); ok {
		conn.Close(out.CloseSessionExpired, "session expired")
	}
	l.teardown(context.Background(), s.ConnID(), "expired")
}
