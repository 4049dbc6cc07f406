package entity

// Guild 只读快照里网关关心的 guild 字段
type Guild struct {
	ID      uint64
	OwnerID uint64
}

// DefaultRoleID 默认角色（@everyone）与 guild 同ID，所有成员隐式持有
func (g *Guild) DefaultRoleID() uint64 {
	return g.ID
}

// Role 角色
type Role struct {
	ID       uint64
	GuildID  uint64
	Name     string
	Position int // 越大优先级越高
	Allow    Permission
	Deny     Permission
}

// GuildMember guild 成员
type GuildMember struct {
	GuildID uint64
	UserID  uint64
	RoleIDs []uint64
	// guild 级的成员直接覆盖，可为空
	Overwrite *PermissionPair
}

// PermissionPair allow/deny 对
type PermissionPair struct {
	Allow Permission
	Deny  Permission
}

// OverwriteKind 覆盖目标类型
type OverwriteKind uint8

const (
	OverwriteRole   OverwriteKind = 0
	OverwriteMember OverwriteKind = 1
)

// PermissionOverwrite 频道级覆盖
type PermissionOverwrite struct {
	TargetID uint64
	Kind     OverwriteKind
	Allow    Permission
	Deny     Permission
}

// ChannelType 频道类型
type ChannelType int8

const (
	ChannelTypeGuildText  ChannelType = 0
	ChannelTypeDirect     ChannelType = 1
	ChannelTypeGuildVoice ChannelType = 2
	ChannelTypeGroup      ChannelType = 3
)

// Channel 频道；私聊/群聊没有 GuildID
type Channel struct {
	ID         uint64
	GuildID    uint64
	Type       ChannelType
	Overwrites []PermissionOverwrite
}

// InGuild 是否为 guild 频道
func (c *Channel) InGuild() bool {
	return c.GuildID != 0
}
