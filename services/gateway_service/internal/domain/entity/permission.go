package entity

import "strings"

// Permission 能力位图
type Permission uint64

// bit 0 同时表示 OWNER 与 ADMINISTRATOR，携带它即拥有全部能力
const (
	PermissionAdministrator Permission = 1 << iota
	PermissionViewChannel
	PermissionSendMessages
	PermissionManageMessages
	PermissionManageChannels
	PermissionManageRoles
	PermissionManageGuild
	PermissionAddReactions
	PermissionAttachFiles
	PermissionMentionEveryone
	PermissionKickMembers
	PermissionBanMembers
	PermissionCreateInvite

	PermissionOwner            = PermissionAdministrator
	PermissionNone  Permission = 0

	// PermissionAll 除 bit 0 外的全部能力
	PermissionAll = PermissionCreateInvite<<1 - 1 - PermissionAdministrator
)

var permissionNames = []struct {
	bit  Permission
	name string
}{
	{PermissionAdministrator, "ADMINISTRATOR"},
	{PermissionViewChannel, "VIEW_CHANNEL"},
	{PermissionSendMessages, "SEND_MESSAGES"},
	{PermissionManageMessages, "MANAGE_MESSAGES"},
	{PermissionManageChannels, "MANAGE_CHANNELS"},
	{PermissionManageRoles, "MANAGE_ROLES"},
	{PermissionManageGuild, "MANAGE_GUILD"},
	{PermissionAddReactions, "ADD_REACTIONS"},
	{PermissionAttachFiles, "ATTACH_FILES"},
	{PermissionMentionEveryone, "MENTION_EVERYONE"},
	{PermissionKickMembers, "KICK_MEMBERS"},
	{PermissionBanMembers, "BAN_MEMBERS"},
	{PermissionCreateInvite, "CREATE_INVITE"},
}

// IsAdministrator 携带 bit 0
func (p Permission) IsAdministrator() bool {
	return p&PermissionAdministrator != 0
}

// Has 拥有 flag 中全部能力；管理员拥有一切
func (p Permission) Has(flag Permission) bool {
	return p.IsAdministrator() || p&flag == flag
}

// Apply 按 deny 再 allow 的顺序叠加一对位图，后叠加者覆盖冲突位
func (p Permission) Apply(allow, deny Permission) Permission {
	return (p &^ deny) | allow
}

func (p Permission) String() string {
	if p == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range permissionNames {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
