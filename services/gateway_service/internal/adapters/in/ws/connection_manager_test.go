package ws

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
)

type stubConn struct {
	id     string
	userID uint64

	mu   sync.Mutex
	code int
}

func (c *stubConn) ID() string             { return c.id }
func (c *stubConn) UserID() uint64         { return c.userID }
func (c *stubConn) BindUser(userID uint64) { c.userID = userID }
func (c *stubConn) Info() entity.ConnectionInfo {
	return entity.ConnectionInfo{ID: c.id, UserID: c.userID}
}
func (c *stubConn) Send([]byte) bool { return true }

func (c *stubConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
}

func TestConnectionManagerMultiDevice(t *testing.T) {
	m := NewConnectionManager()
	a := &stubConn{id: "a", userID: 1}
	b := &stubConn{id: "b", userID: 1}
	c := &stubConn{id: "c", userID: 2}
	m.Register(a)
	m.Register(b)
	m.Register(c)

	assert.Len(t, m.ConnectionsOf(1), 2)
	assert.Equal(t, 3, m.Stats().Connections)
	assert.Equal(t, 2, m.Stats().OnlineUsers)

	assert.True(t, m.Unregister("a"))
	assert.False(t, m.Unregister("a"))
	assert.Len(t, m.ConnectionsOf(1), 1)

	got, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "b", got.ID())

	assert.True(t, m.Unregister("b"))
	assert.Nil(t, m.ConnectionsOf(1))
	assert.Equal(t, 1, m.Stats().OnlineUsers)
	assert.Equal(t, int64(3), m.TotalOpened())
}

func TestConnectionManagerCloseAll(t *testing.T) {
	m := NewConnectionManager()
	conns := []*stubConn{{id: "a", userID: 1}, {id: "b", userID: 2}}
	for _, c := range conns {
		m.Register(c)
	}

	m.CloseAll(1001, "bye")
	for _, c := range conns {
		assert.Equal(t, 1001, c.code)
	}
}

func TestConnectionManagerConcurrent(t *testing.T) {
	m := NewConnectionManager()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &stubConn{id: string(rune('A' + i)), userID: uint64(i % 5)}
			m.Register(c)
			m.ConnectionsOf(c.userID)
			m.Unregister(c.id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Stats().Connections)
	assert.Equal(t, 0, m.Stats().OnlineUsers)
}
