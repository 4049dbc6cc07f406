package memory

import (
	"context"
	"slices"
	"sync"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

type memberKey struct {
	guildID uint64
	userID  uint64
}

// Directory 内存版的 guild/角色/频道/成员数据，同时实现成员关系与权限两个只读仓储
type Directory struct {
	mu       sync.RWMutex
	guilds   map[uint64]*entity.Guild
	roles    map[uint64]map[uint64]*entity.Role // guildID -> roleID -> role
	members  map[memberKey]*entity.GuildMember
	channels map[uint64]*entity.Channel
	// 私聊/群聊参与者
	participants map[uint64][]uint64 // userID -> channelIDs
}

var (
	_ out.MembershipRepository = (*Directory)(nil)
	_ out.PermissionRepository = (*Directory)(nil)
)

func NewDirectory() *Directory {
	return &Directory{
		guilds:       make(map[uint64]*entity.Guild),
		roles:        make(map[uint64]map[uint64]*entity.Role),
		members:      make(map[memberKey]*entity.GuildMember),
		channels:     make(map[uint64]*entity.Channel),
		participants: make(map[uint64][]uint64),
	}
}

// PutGuild 同时创建默认角色
func (d *Directory) PutGuild(g entity.Guild, everyone entity.Permission) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.guilds[g.ID] = &g
	if d.roles[g.ID] == nil {
		d.roles[g.ID] = make(map[uint64]*entity.Role)
	}
	d.roles[g.ID][g.ID] = &entity.Role{ID: g.ID, GuildID: g.ID, Name: "@everyone", Allow: everyone}
}

func (d *Directory) PutRole(r entity.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.roles[r.GuildID] == nil {
		d.roles[r.GuildID] = make(map[uint64]*entity.Role)
	}
	d.roles[r.GuildID][r.ID] = &r
}

func (d *Directory) PutMember(m entity.GuildMember) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[memberKey{m.GuildID, m.UserID}] = &m
}

func (d *Directory) RemoveMember(guildID, userID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members, memberKey{guildID, userID})
}

func (d *Directory) PutChannel(c entity.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[c.ID] = &c
}

// AddParticipant 把用户加入私聊/群聊频道
func (d *Directory) AddParticipant(channelID uint64, userIDs ...uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, uid := range userIDs {
		if !slices.Contains(d.participants[uid], channelID) {
			d.participants[uid] = append(d.participants[uid], channelID)
		}
	}
}

func (d *Directory) GuildIDsForUser(_ context.Context, userID uint64) ([]uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []uint64
	for k := range d.members {
		if k.userID == userID {
			ids = append(ids, k.guildID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (d *Directory) ChannelIDsForUser(_ context.Context, userID uint64) ([]uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.participants[userID]), nil
}

func (d *Directory) GetGuild(_ context.Context, guildID uint64) (*entity.Guild, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.guilds[guildID]
	if !ok {
		return nil, gwerrors.NewNotFound("guild", guildID)
	}
	cp := *g
	return &cp, nil
}

func (d *Directory) GetMember(_ context.Context, guildID, userID uint64) (*entity.GuildMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[memberKey{guildID, userID}]
	if !ok {
		return nil, gwerrors.NewNotFound("member", userID)
	}
	cp := *m
	cp.RoleIDs = slices.Clone(m.RoleIDs)
	if m.Overwrite != nil {
		ow := *m.Overwrite
		cp.Overwrite = &ow
	}
	return &cp, nil
}

func (d *Directory) GetRoles(_ context.Context, guildID uint64) (map[uint64]*entity.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	roles := make(map[uint64]*entity.Role, len(d.roles[guildID]))
	for id, r := range d.roles[guildID] {
		cp := *r
		roles[id] = &cp
	}
	return roles, nil
}

func (d *Directory) GetChannel(_ context.Context, channelID uint64) (*entity.Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.channels[channelID]
	if !ok {
		return nil, gwerrors.NewNotFound("channel", channelID)
	}
	cp := *c
	cp.Overwrites = slices.Clone(c.Overwrites)
	return &cp, nil
}
