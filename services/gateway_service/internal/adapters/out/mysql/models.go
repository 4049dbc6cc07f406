package mysql

import (
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
)

// 这些表由 guild 服务维护，网关只读

// GuildModel GORM模型
type GuildModel struct {
	ID      uint64 `gorm:"column:id;primaryKey"`
	OwnerID uint64 `gorm:"column:owner_id;not null"`
}

func (GuildModel) TableName() string { return "guilds" }

func (m *GuildModel) toEntity() *entity.Guild {
	return &entity.Guild{ID: m.ID, OwnerID: m.OwnerID}
}

// RoleModel 角色，默认角色与 guild 同ID
type RoleModel struct {
	ID       uint64 `gorm:"column:id;primaryKey"`
	GuildID  uint64 `gorm:"column:guild_id;index;not null"`
	Name     string `gorm:"column:name;type:varchar(100)"`
	Position int    `gorm:"column:position;default:0"`
	Allow    uint64 `gorm:"column:allow;default:0"`
	Deny     uint64 `gorm:"column:deny;default:0"`
}

func (RoleModel) TableName() string { return "guild_roles" }

func (m *RoleModel) toEntity() *entity.Role {
	return &entity.Role{
		ID:       m.ID,
		GuildID:  m.GuildID,
		Name:     m.Name,
		Position: m.Position,
		Allow:    entity.Permission(m.Allow),
		Deny:     entity.Permission(m.Deny),
	}
}

// MemberModel 成员；overwrite_allow/overwrite_deny 同时为空表示没有 guild 级覆盖
type MemberModel struct {
	GuildID        uint64  `gorm:"column:guild_id;primaryKey"`
	UserID         uint64  `gorm:"column:user_id;primaryKey;index"`
	OverwriteAllow *uint64 `gorm:"column:overwrite_allow"`
	OverwriteDeny  *uint64 `gorm:"column:overwrite_deny"`
}

func (MemberModel) TableName() string { return "guild_members" }

func (m *MemberModel) toEntity(roleIDs []uint64) *entity.GuildMember {
	member := &entity.GuildMember{
		GuildID: m.GuildID,
		UserID:  m.UserID,
		RoleIDs: roleIDs,
	}
	if m.OverwriteAllow != nil || m.OverwriteDeny != nil {
		pair := &entity.PermissionPair{}
		if m.OverwriteAllow != nil {
			pair.Allow = entity.Permission(*m.OverwriteAllow)
		}
		if m.OverwriteDeny != nil {
			pair.Deny = entity.Permission(*m.OverwriteDeny)
		}
		member.Overwrite = pair
	}
	return member
}

// MemberRoleModel 成员持有的角色
type MemberRoleModel struct {
	GuildID uint64 `gorm:"column:guild_id;primaryKey"`
	UserID  uint64 `gorm:"column:user_id;primaryKey"`
	RoleID  uint64 `gorm:"column:role_id;primaryKey"`
}

func (MemberRoleModel) TableName() string { return "guild_member_roles" }

// ChannelModel 频道；私聊/群聊的 guild_id 为空
type ChannelModel struct {
	ID      uint64  `gorm:"column:id;primaryKey"`
	GuildID *uint64 `gorm:"column:guild_id;index"`
	Type    int8    `gorm:"column:type;not null"`
}

func (ChannelModel) TableName() string { return "channels" }

func (m *ChannelModel) toEntity(overwrites []OverwriteModel) *entity.Channel {
	ch := &entity.Channel{ID: m.ID, Type: entity.ChannelType(m.Type)}
	if m.GuildID != nil {
		ch.GuildID = *m.GuildID
	}
	ch.Overwrites = make([]entity.PermissionOverwrite, 0, len(overwrites))
	for _, ow := range overwrites {
		ch.Overwrites = append(ch.Overwrites, entity.PermissionOverwrite{
			TargetID: ow.TargetID,
			Kind:     entity.OverwriteKind(ow.Kind),
			Allow:    entity.Permission(ow.Allow),
			Deny:     entity.Permission(ow.Deny),
		})
	}
	return ch
}

// OverwriteModel 频道覆盖，kind 0=角色 1=成员
type OverwriteModel struct {
	ChannelID uint64 `gorm:"column:channel_id;primaryKey"`
	TargetID  uint64 `gorm:"column:target_id;primaryKey"`
	Kind      uint8  `gorm:"column:kind;primaryKey"`
	Allow     uint64 `gorm:"column:allow;default:0"`
	Deny      uint64 `gorm:"column:deny;default:0"`
}

func (OverwriteModel) TableName() string { return "channel_overwrites" }

// ParticipantModel 私聊/群聊参与者
type ParticipantModel struct {
	ChannelID uint64 `gorm:"column:channel_id;primaryKey"`
	UserID    uint64 `gorm:"column:user_id;primaryKey;index"`
}

func (ParticipantModel) TableName() string { return "channel_participants" }
