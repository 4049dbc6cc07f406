// Package permission 在一份只读快照上计算成员的有效权限，不做任何 IO
package permission

import (
	"sort"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
)

// Snapshot 计算一次权限所需的全部数据
type Snapshot struct {
	Guild  *entity.Guild
	Member *entity.GuildMember
	// guild 下的角色，至少包含成员持有的角色和默认角色
	Roles map[uint64]*entity.Role
	// 为空表示只计算 guild 级权限
	Channel *entity.Channel
}

// Compute 计算有效权限位图
//
// 优先级从高到低：owner、成员 guild 级覆盖里的管理员、角色里的管理员、
// 频道成员覆盖、频道角色覆盖（按角色位置升序）、成员 guild 级覆盖、角色聚合（按位置升序）。
// 指定频道时，频道级覆盖整体压过 guild 级覆盖。
func Compute(s *Snapshot) (entity.Permission, error) {
	if s.Guild == nil {
		return entity.PermissionNone, gwerrors.NewNotFound("guild", 0)
	}
	if s.Member == nil {
		return entity.PermissionNone, gwerrors.NewNotFound("member", 0)
	}
	guild, member := s.Guild, s.Member

	if member.UserID == guild.OwnerID {
		return entity.PermissionOwner, nil
	}

	if ow := member.Overwrite; ow != nil && ow.Allow.IsAdministrator() {
		return ow.Allow, nil
	}

	roles, err := heldRoles(s)
	if err != nil {
		return entity.PermissionNone, err
	}

	perms := entity.PermissionNone
	for _, r := range roles {
		if r.Allow.IsAdministrator() {
			return entity.PermissionAdministrator, nil
		}
		perms = perms.Apply(r.Allow, r.Deny)
	}

	if ow := member.Overwrite; ow != nil {
		perms = perms.Apply(ow.Allow, ow.Deny)
	}
	if s.Channel == nil {
		return perms, nil
	}

	ch := s.Channel
	if ch.GuildID != guild.ID {
		return entity.PermissionNone, gwerrors.NewNotFound("channel", ch.ID)
	}

	position := make(map[uint64]*entity.Role, len(roles))
	for _, r := range roles {
		position[r.ID] = r
	}

	var roleOws []entity.PermissionOverwrite
	var memberOw *entity.PermissionOverwrite
	for i := range ch.Overwrites {
		ow := &ch.Overwrites[i]
		switch ow.Kind {
		case entity.OverwriteRole:
			if _, ok := position[ow.TargetID]; ok {
				roleOws = append(roleOws, *ow)
			}
		case entity.OverwriteMember:
			if ow.TargetID == member.UserID {
				memberOw = ow
			}
		}
	}

	sort.SliceStable(roleOws, func(i, j int) bool {
		return lessRole(position[roleOws[i].TargetID], position[roleOws[j].TargetID])
	})
	for _, ow := range roleOws {
		perms = perms.Apply(ow.Allow, ow.Deny)
	}
	if memberOw != nil {
		perms = perms.Apply(memberOw.Allow, memberOw.Deny)
	}
	return perms, nil
}

// heldRoles 成员持有的角色（含默认角色），按位置升序
func heldRoles(s *Snapshot) ([]*entity.Role, error) {
	ids := make([]uint64, 0, len(s.Member.RoleIDs)+1)
	ids = append(ids, s.Guild.DefaultRoleID())
	ids = append(ids, s.Member.RoleIDs...)

	seen := make(map[uint64]struct{}, len(ids))
	roles := make([]*entity.Role, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		r, ok := s.Roles[id]
		if !ok || r == nil {
			return nil, gwerrors.NewDataInconsistency(s.Guild.ID,
				"member %d references missing role %d", s.Member.UserID, id)
		}
		if r.GuildID != s.Guild.ID {
			return nil, gwerrors.NewDataInconsistency(s.Guild.ID,
				"role %d belongs to guild %d", id, r.GuildID)
		}
		roles = append(roles, r)
	}

	sort.SliceStable(roles, func(i, j int) bool { return lessRole(roles[i], roles[j]) })
	return roles, nil
}

// 位置相同时按 ID 排，保证结果确定
func lessRole(a, b *entity.Role) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.ID < b.ID
}

// CanView 是否能看到频道内容
func CanView(p entity.Permission) bool {
	return p.Has(entity.PermissionViewChannel)
}
