package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeClock 手动触发的定时器，fire 时即使已 Stop 也会执行，模拟与取消并发的触发
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.f()
}

type recorder struct {
	mu       sync.Mutex
	warnings []time.Time
	expired  int
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnWarning: func(_ *Session, exp time.Time) {
			r.mu.Lock()
			r.warnings = append(r.warnings, exp)
			r.mu.Unlock()
		},
		OnExpired: func(_ *Session) {
			r.mu.Lock()
			r.expired++
			r.mu.Unlock()
		},
	}
}

var timing = Timing{WarningLead: time.Minute, Grace: time.Minute}

func newTestSession(c *fakeClock, r *recorder) *Session {
	return New("conn-1", timing, r.hooks(), WithAfterFunc(c.afterFunc), WithClock(c.Now))
}

func TestNextTable(t *testing.T) {
	to, err := Next(StateConnecting, EventAuthenticate)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, to)

	to, err = Next(StateWarningIssued, EventRefresh)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, to)

	_, err = Next(StateConnecting, EventWarn)
	assert.ErrorIs(t, err, gwerrors.ErrInvalidTransition)

	_, err = Next(StateAuthenticated, EventExpire)
	assert.ErrorIs(t, err, gwerrors.ErrInvalidTransition)

	_, err = Next(StateDisconnected, EventClose)
	assert.ErrorIs(t, err, gwerrors.ErrSessionClosed)
}

func TestWarningThenExpire(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	r := &recorder{}
	s := newTestSession(c, r)

	exp := c.now.Add(10 * time.Minute)
	require.NoError(t, s.Authenticate(7, exp))
	require.True(t, s.Arm())
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, uint64(7), s.UserID())
	assert.Equal(t, 9*time.Minute, c.last().d)

	c.fire(0)
	assert.Equal(t, StateWarningIssued, s.State())
	assert.Equal(t, []time.Time{exp}, r.warnings)
	assert.Equal(t, time.Minute, c.last().d)

	c.fire(1)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, r.expired)
}

func TestRefreshReschedulesAndIgnoresStaleTimers(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	r := &recorder{}
	s := newTestSession(c, r)

	require.NoError(t, s.Authenticate(7, c.now.Add(5*time.Minute)))
	require.True(t, s.Arm())
	c.fire(0) // warning
	require.Equal(t, StateWarningIssued, s.State())

	newExp := c.now.Add(30 * time.Minute)
	require.NoError(t, s.Refresh(newExp))
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, newExp, s.ExpiresAt())
	assert.True(t, c.timers[1].stopped)
	assert.Equal(t, 29*time.Minute, c.last().d)

	// 旧的宽限期定时器晚到也不会断开
	c.fire(1)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, 0, r.expired)

	// 旧的预警定时器同理
	c.fire(0)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Len(t, r.warnings, 1)
}

func TestRefreshWhileAuthenticated(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestSession(c, &recorder{})

	require.NoError(t, s.Authenticate(7, c.now.Add(5*time.Minute)))
	require.True(t, s.Arm())
	require.NoError(t, s.Refresh(c.now.Add(time.Hour)))
	assert.True(t, c.timers[0].stopped)
	assert.Len(t, c.timers, 2)
}

func TestNearExpiryWarnsImmediately(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestSession(c, &recorder{})

	require.NoError(t, s.Authenticate(7, c.now.Add(10*time.Second)))
	require.True(t, s.Arm())
	assert.Equal(t, time.Duration(0), c.last().d)
}

func TestCloseDuringWarningCancelsDisconnect(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	r := &recorder{}
	s := newTestSession(c, r)

	require.NoError(t, s.Authenticate(7, c.now.Add(5*time.Minute)))
	require.True(t, s.Arm())
	c.fire(0)
	require.Equal(t, StateWarningIssued, s.State())

	assert.True(t, s.Close())
	assert.False(t, s.Close())
	assert.True(t, c.timers[1].stopped)

	c.fire(1)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 0, r.expired)

	assert.ErrorIs(t, s.Refresh(c.now.Add(time.Hour)), gwerrors.ErrSessionClosed)
}

func TestFailFromConnecting(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestSession(c, &recorder{})

	require.NoError(t, s.Fail())
	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.Close())
	assert.Empty(t, c.timers)
}

func TestRefreshBeforeAuthenticateRejected(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestSession(c, &recorder{})
	assert.ErrorIs(t, s.Refresh(c.now.Add(time.Hour)), gwerrors.ErrInvalidTransition)
}

func TestRealTimerExpires(t *testing.T) {
	done := make(chan struct{})
	s := New("conn-2", Timing{WarningLead: 0, Grace: 10 * time.Millisecond}, Hooks{
		OnExpired: func(*Session) { close(done) },
	})
	require.NoError(t, s.Authenticate(1, time.Now().Add(10*time.Millisecond)))
	require.True(t, s.Arm())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not expire")
	}
	assert.Equal(t, StateDisconnected, s.State())
}

func TestArmOnlyOnceAfterAuthenticate(t *testing.T) {
	c := &fakeClock{now: time.Unix(1000, 0)}
	s := newTestSession(c, &recorder{})

	assert.False(t, s.Arm())
	require.NoError(t, s.Authenticate(7, c.now.Add(5*time.Minute)))
	assert.Empty(t, c.timers)

	assert.True(t, s.Arm())
	assert.False(t, s.Arm())
	assert.Len(t, c.timers, 1)
}
