package application

import (
	"context"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/permission"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/in"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// PermissionService 从仓储加载快照并计算权限
type PermissionService struct {
	repo out.PermissionRepository
}

var _ in.PermissionUseCase = (*PermissionService)(nil)

// NewPermissionService 创建权限用例
func NewPermissionService(repo out.PermissionRepository) *PermissionService {
	return &PermissionService{repo: repo}
}

// Resolve 计算用户在 guild（及可选频道）上的有效权限
func (s *PermissionService) Resolve(ctx context.Context, guildID, userID uint64, channelID *uint64) (entity.Permission, error) {
	guild, err := s.repo.GetGuild(ctx, guildID)
	if err != nil {
		return entity.PermissionNone, err
	}
	member, err := s.repo.GetMember(ctx, guildID, userID)
	if err != nil {
		return entity.PermissionNone, err
	}
	snap := &permission.Snapshot{Guild: guild, Member: member}

	// owner 不需要角色和频道
	if member.UserID == guild.OwnerID {
		return permission.Compute(snap)
	}

	if snap.Roles, err = s.repo.GetRoles(ctx, guildID); err != nil {
		return entity.PermissionNone, err
	}
	if channelID != nil {
		if snap.Channel, err = s.repo.GetChannel(ctx, *channelID); err != nil {
			return entity.PermissionNone, err
		}
	}
	return permission.Compute(snap)
}

// ChannelViewFilter 一次分发内复用 guild/角色/频道，只按成员逐个加载
type ChannelViewFilter struct {
	repo    out.PermissionRepository
	guild   *entity.Guild
	roles   map[uint64]*entity.Role
	channel *entity.Channel
}

// NewChannelViewFilter 预加载 guild、角色和频道
func (s *PermissionService) NewChannelViewFilter(ctx context.Context, guildID, channelID uint64) (*ChannelViewFilter, error) {
	guild, err := s.repo.GetGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	roles, err := s.repo.GetRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	channel, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &ChannelViewFilter{repo: s.repo, guild: guild, roles: roles, channel: channel}, nil
}

// CanView 用户能否看到频道内容
func (f *ChannelViewFilter) CanView(ctx context.Context, userID uint64) (bool, error) {
	member, err := f.repo.GetMember(ctx, f.guild.ID, userID)
	if err != nil {
		return false, err
	}
	p, err := permission.Compute(&permission.Snapshot{
		Guild:   f.guild,
		Member:  member,
		Roles:   f.roles,
		Channel: f.channel,
	})
	if err != nil {
		return false, err
	}
	return permission.CanView(p), nil
}
