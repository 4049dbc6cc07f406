package session

import (
	"sync"
	"time"
)

// Timer 可取消的定时器句柄，*time.Timer 满足该接口
type Timer interface {
	Stop() bool
}

// AfterFunc 定时器工厂，测试里可以替换成手动触发的实现
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc 基于 time.AfterFunc
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Timing 定时参数
type Timing struct {
	WarningLead time.Duration // 过期前多久预警
	Grace       time.Duration // 预警后多久强制断开
}

// Hooks 定时器触发后的回调，在锁外执行
type Hooks struct {
	OnWarning func(s *Session, expiresAt time.Time)
	OnExpired func(s *Session)
}

// Session 单个连接的生命周期
//
// 任一时刻最多一个待触发的定时器；每次重排都会递增 gen，
// 旧定时器触发时发现 gen 不一致直接返回。
type Session struct {
	connID string
	userID uint64

	timing    Timing
	hooks     Hooks
	afterFunc AfterFunc
	now       func() time.Time

	mu        sync.Mutex
	state     State
	expiresAt time.Time
	timer     Timer
	gen       uint64
}

// Option 配置 Session
type Option func(*Session)

// WithAfterFunc 替换定时器工厂
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Session) { s.afterFunc = f }
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New 创建处于 Connecting 状态的会话
func New(connID string, timing Timing, hooks Hooks, opts ...Option) *Session {
	s := &Session{
		connID:    connID,
		timing:    timing,
		hooks:     hooks,
		afterFunc: RealAfterFunc,
		now:       time.Now,
		state:     StateConnecting,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ConnID() string { return s.connID }

func (s *Session) UserID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Authenticate 认证通过；预警定时器要等 Arm 才装上
func (s *Session) Authenticate(userID uint64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Next(s.state, EventAuthenticate)
	if err != nil {
		return err
	}
	s.state = next
	s.userID = userID
	s.expiresAt = expiresAt
	return nil
}

// Arm 装上预警定时器。调用方须先把连接登记好，否则立即触发的预警找不到连接
func (s *Session) Arm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated || s.timer != nil {
		return false
	}
	s.armWarningLocked()
	return true
}

// Fail 认证失败，直接进入终态
func (s *Session) Fail() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Next(s.state, EventAuthFail)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// Refresh 取消待触发的定时器，按新的过期时间重新预警，回到 Authenticated
func (s *Session) Refresh(expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Next(s.state, EventRefresh)
	if err != nil {
		return err
	}
	s.state = next
	s.expiresAt = expiresAt
	s.armWarningLocked()
	return nil
}

// Close 进入终态并取消全部定时器；只有第一次调用返回 true
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Next(s.state, EventClose)
	if err != nil {
		return false
	}
	s.state = next
	s.cancelLocked()
	return true
}

func (s *Session) cancelLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) armWarningLocked() {
	s.cancelLocked()
	gen := s.gen

	delay := s.expiresAt.Sub(s.now()) - s.timing.WarningLead
	if delay < 0 {
		delay = 0
	}
	s.timer = s.afterFunc(delay, func() { s.fireWarning(gen) })
}

func (s *Session) fireWarning(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	next, err := Next(s.state, EventWarn)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.state = next
	expiresAt := s.expiresAt

	s.cancelLocked()
	expGen := s.gen
	s.timer = s.afterFunc(s.timing.Grace, func() { s.fireExpire(expGen) })
	s.mu.Unlock()

	if s.hooks.OnWarning != nil {
		s.hooks.OnWarning(s, expiresAt)
	}
}

func (s *Session) fireExpire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	next, err := Next(s.state, EventExpire)
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.cancelLocked()
	s.mu.Unlock()

	if s.hooks.OnExpired != nil {
		s.hooks.OnExpired(s)
	}
}
