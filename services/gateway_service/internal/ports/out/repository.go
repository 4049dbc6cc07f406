package out

import (
	"context"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
)

// MembershipRepository 成员关系查询，由外部协作方维护
type MembershipRepository interface {
	// GuildIDsForUser 用户加入的 guild
	GuildIDsForUser(ctx context.Context, userID uint64) ([]uint64, error)
	// ChannelIDsForUser 用户参与的私聊/群聊频道
	ChannelIDsForUser(ctx context.Context, userID uint64) ([]uint64, error)
}

// PermissionRepository 权限计算所需数据的只读访问，缺失时返回 ErrNotFound
type PermissionRepository interface {
	GetGuild(ctx context.Context, guildID uint64) (*entity.Guild, error)
	GetMember(ctx context.Context, guildID, userID uint64) (*entity.GuildMember, error)
	// GetRoles guild 下的全部角色，按角色ID索引
	GetRoles(ctx context.Context, guildID uint64) (map[uint64]*entity.Role, error)
	// GetChannel 频道及其覆盖
	GetChannel(ctx context.Context, channelID uint64) (*entity.Channel, error)
}
