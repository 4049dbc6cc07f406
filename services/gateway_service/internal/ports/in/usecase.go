package in

import (
	"context"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/session"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// PermissionUseCase 权限计算
type PermissionUseCase interface {
	// Resolve channelID 为 nil 时只计算 guild 级权限
	Resolve(ctx context.Context, guildID, userID uint64, channelID *uint64) (entity.Permission, error)
}

// PresenceUseCase 在线状态索引
type PresenceUseCase interface {
	OnConnect(ctx context.Context, userID uint64, connID string) error
	OnDisconnect(ctx context.Context, userID uint64, connID string) error
	// Entry 读取用户条目的副本，离线返回 nil
	Entry(ctx context.Context, userID uint64) (*entity.PresenceEntry, error)
	// Members scope 的在线成员；存储不可用时退化为最近一次快照
	Members(ctx context.Context, scope entity.ScopeKey) []uint64
}

// RouteResult 一次路由的结果
type RouteResult struct {
	Recipients int `json:"recipients"` // 去重后的接收用户数
	Delivered  int `json:"delivered"`  // 成功入队的连接数
	Dropped    int `json:"dropped"`    // 入队失败的连接数
	Filtered   int `json:"filtered"`   // 因权限被过滤的用户数
}

// RouterUseCase 事件分发
type RouterUseCase interface {
	Route(ctx context.Context, event *entity.Event) (RouteResult, error)
}

// LifecycleUseCase 连接生命周期
type LifecycleUseCase interface {
	// Open 校验令牌并接入连接；令牌无效时以 4001 关闭连接并返回 ErrAuth
	Open(ctx context.Context, conn out.Connection, token string) (*session.Session, error)
	// Refresh 用新令牌刷新会话
	Refresh(ctx context.Context, connID, token string) error
	// Close 连接关闭后的清理，可重复调用
	Close(ctx context.Context, connID string)
	// Shutdown 关闭本实例全部会话
	Shutdown(ctx context.Context)
}
