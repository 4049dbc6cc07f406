package out

import (
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
)

// 自定义关闭码
const (
	CloseAuthFailed     = 4001
	CloseSessionExpired = 4002
	CloseGoingAway      = 1001
)

// Connection 一条已建立的双工连接
type Connection interface {
	ID() string
	UserID() uint64
	// BindUser 认证通过后绑定用户
	BindUser(userID uint64)
	Info() entity.ConnectionInfo
	// Send 非阻塞入队一帧，队列满或已关闭返回 false
	Send(frame []byte) bool
	// Close 带关闭码关闭连接，可重复调用
	Close(code int, reason string)
}

// RegistryStats 连接统计
type RegistryStats struct {
	Connections int `json:"connections"`
	OnlineUsers int `json:"online_users"`
}

// ConnectionRegistry 本实例上的活跃连接，一个用户可以有多条
type ConnectionRegistry interface {
	Register(conn Connection)
	// Unregister 只有连接仍在表中时返回 true
	Unregister(connID string) bool
	Get(connID string) (Connection, bool)
	// ConnectionsOf 返回快照
	ConnectionsOf(userID uint64) []Connection
	Stats() RegistryStats
	// CloseAll 关闭全部连接，用于优雅退出
	CloseAll(code int, reason string)
}
