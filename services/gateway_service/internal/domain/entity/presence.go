package entity

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// ScopeKind 在线成员索引的作用域类型
type ScopeKind uint8

const (
	ScopeGuild   ScopeKind = 1
	ScopeChannel ScopeKind = 2
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeGuild:
		return "guild"
	case ScopeChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// ScopeKey 定位一个 ScopedMemberIndex
type ScopeKey struct {
	Kind ScopeKind
	ID   uint64
}

func GuildScope(id uint64) ScopeKey   { return ScopeKey{Kind: ScopeGuild, ID: id} }
func ChannelScope(id uint64) ScopeKey { return ScopeKey{Kind: ScopeChannel, ID: id} }

func (k ScopeKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// PresenceEntry 单个在线用户的成员关系与连接列表
// 由首个连接创建，连接列表清空时整体删除
type PresenceEntry struct {
	UserID        uint64    `json:"user_id"`
	GuildIDs      []uint64  `json:"guild_ids"`
	ChannelIDs    []uint64  `json:"channel_ids"`
	ConnectionIDs []string  `json:"connection_ids"`
	ConnectedAt   time.Time `json:"connected_at"`
	// 连接ID -> 持有该连接的网关实例
	Owners map[string]string `json:"owners,omitempty"`
}

// NewPresenceEntry 创建条目，成员关系去重
func NewPresenceEntry(userID uint64, guildIDs, channelIDs []uint64, connID string) *PresenceEntry {
	return &PresenceEntry{
		UserID:        userID,
		GuildIDs:      dedupe(guildIDs),
		ChannelIDs:    dedupe(channelIDs),
		ConnectionIDs: []string{connID},
		ConnectedAt:   time.Now(),
	}
}

// Scopes 返回条目所属的全部索引
func (e *PresenceEntry) Scopes() []ScopeKey {
	scopes := make([]ScopeKey, 0, len(e.GuildIDs)+len(e.ChannelIDs))
	for _, id := range e.GuildIDs {
		scopes = append(scopes, GuildScope(id))
	}
	for _, id := range e.ChannelIDs {
		scopes = append(scopes, ChannelScope(id))
	}
	return scopes
}

// AddConnection 追加连接并记下所属实例，重复的连接ID忽略；返回是否有变化
func (e *PresenceEntry) AddConnection(connID, instanceID string) bool {
	if slices.Contains(e.ConnectionIDs, connID) {
		return false
	}
	e.ConnectionIDs = append(e.ConnectionIDs, connID)
	e.SetOwner(connID, instanceID)
	return true
}

// SetOwner 记录连接所属实例，instanceID 为空时不记录
func (e *PresenceEntry) SetOwner(connID, instanceID string) {
	if instanceID == "" {
		return
	}
	if e.Owners == nil {
		e.Owners = make(map[string]string)
	}
	e.Owners[connID] = instanceID
}

// RemoveConnection 移除连接；返回是否有变化
func (e *PresenceEntry) RemoveConnection(connID string) bool {
	idx := slices.Index(e.ConnectionIDs, connID)
	if idx < 0 {
		return false
	}
	e.ConnectionIDs = slices.Delete(e.ConnectionIDs, idx, idx+1)
	delete(e.Owners, connID)
	return true
}

// OwnerInstances 条目上出现过的实例，排序去重
func (e *PresenceEntry) OwnerInstances() []string {
	ids := make([]string, 0, len(e.Owners))
	for _, inst := range e.Owners {
		ids = append(ids, inst)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// PruneOwners 移除所属实例不在 alive 里的连接，没有记录实例的连接保留；返回移除的连接
func (e *PresenceEntry) PruneOwners(alive map[string]bool) []string {
	var removed []string
	kept := e.ConnectionIDs[:0]
	for _, id := range e.ConnectionIDs {
		inst, tagged := e.Owners[id]
		if tagged && !alive[inst] {
			removed = append(removed, id)
			delete(e.Owners, id)
			continue
		}
		kept = append(kept, id)
	}
	e.ConnectionIDs = kept
	return removed
}

// Empty 没有任何活跃连接
func (e *PresenceEntry) Empty() bool {
	return len(e.ConnectionIDs) == 0
}

// InGuild 是否属于某个 guild
func (e *PresenceEntry) InGuild(id uint64) bool {
	return slices.Contains(e.GuildIDs, id)
}

// Clone 深拷贝，读路径返回副本
func (e *PresenceEntry) Clone() *PresenceEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.GuildIDs = slices.Clone(e.GuildIDs)
	c.ChannelIDs = slices.Clone(e.ChannelIDs)
	c.ConnectionIDs = slices.Clone(e.ConnectionIDs)
	c.Owners = maps.Clone(e.Owners)
	return &c
}

// PresenceStatus 状态枚举
type PresenceStatus string

const (
	PresenceStatusOnline  PresenceStatus = "online"
	PresenceStatusOffline PresenceStatus = "offline"
)

// PresenceEvent 上线/下线事件，发布为 user.presence
type PresenceEvent struct {
	UserID    uint64         `json:"user_id"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

func dedupe(ids []uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
