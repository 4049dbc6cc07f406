package ws

import (
	"sync"
	"sync/atomic"

	"github.com/EthanQC/guildgate/pkg/zlog"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// ConnectionManager 本实例的连接注册表，userID -> connID -> connection
type ConnectionManager struct {
	mu     sync.RWMutex
	byUser map[uint64]map[string]out.Connection
	byID   map[string]out.Connection

	totalOpened atomic.Int64
}

var _ out.ConnectionRegistry = (*ConnectionManager)(nil)

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byUser: make(map[uint64]map[string]out.Connection),
		byID:   make(map[string]out.Connection),
	}
}

// Register 同一用户的多条连接并存，互不顶替
func (m *ConnectionManager) Register(conn out.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID := conn.UserID()
	conns, ok := m.byUser[userID]
	if !ok {
		conns = make(map[string]out.Connection)
		m.byUser[userID] = conns
	}
	conns[conn.ID()] = conn
	m.byID[conn.ID()] = conn
	m.totalOpened.Add(1)

	zlog.Debug("连接已注册",
		zlog.UserID(userID), zlog.ConnID(conn.ID()), zlog.Int("total", len(m.byID)))
}

func (m *ConnectionManager) Unregister(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.byID[connID]
	if !ok {
		return false
	}
	delete(m.byID, connID)

	userID := conn.UserID()
	if conns, ok := m.byUser[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(m.byUser, userID)
		}
	}

	zlog.Debug("连接已注销",
		zlog.UserID(userID), zlog.ConnID(connID), zlog.Int("total", len(m.byID)))
	return true
}

func (m *ConnectionManager) Get(connID string) (out.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.byID[connID]
	return conn, ok
}

func (m *ConnectionManager) ConnectionsOf(userID uint64) []out.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns, ok := m.byUser[userID]
	if !ok {
		return nil
	}
	list := make([]out.Connection, 0, len(conns))
	for _, c := range conns {
		list = append(list, c)
	}
	return list
}

func (m *ConnectionManager) Stats() out.RegistryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return out.RegistryStats{
		Connections: len(m.byID),
		OnlineUsers: len(m.byUser),
	}
}

// TotalOpened 进程启动以来注册过的连接数
func (m *ConnectionManager) TotalOpened() int64 {
	return m.totalOpened.Load()
}

func (m *ConnectionManager) CloseAll(code int, reason string) {
	m.mu.RLock()
	conns := make([]out.Connection, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.Close(code, reason)
	}
}
