package out

import (
	"context"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
)

// PresenceStore 在线状态存储，只暴露远程 get/set/delete 语义，多个网关实例可以共享同一个存储
type PresenceStore interface {
	// GetEntry 读取用户的在线条目，不存在时返回 nil, nil
	GetEntry(ctx context.Context, userID uint64) (*entity.PresenceEntry, error)
	// SetEntry 覆盖写入用户条目
	SetEntry(ctx context.Context, entry *entity.PresenceEntry) error
	// DeleteEntry 删除用户条目
	DeleteEntry(ctx context.Context, userID uint64) error
	// AddMember 把用户加入一批 scope 的在线成员集合
	AddMember(ctx context.Context, userID uint64, scopes []entity.ScopeKey) error
	// RemoveMember 把用户移出一批 scope 的在线成员集合，集合为空时一并删除
	RemoveMember(ctx context.Context, userID uint64, scopes []entity.ScopeKey) error
	// Members 读取 scope 的在线成员
	Members(ctx context.Context, scope entity.ScopeKey) ([]uint64, error)
	// Touch 续期用户条目和它所在的 scope 集合
	Touch(ctx context.Context, userID uint64, scopes []entity.ScopeKey) error
	// Heartbeat 标记网关实例存活，心跳过期的实例视为已下线
	Heartbeat(ctx context.Context, instanceID string) error
	// LiveInstances 返回 ids 中心跳未过期的实例
	LiveInstances(ctx context.Context, ids []string) (map[string]bool, error)
}
