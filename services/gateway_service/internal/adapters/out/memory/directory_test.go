package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
)

func TestDirectoryMembership(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory()
	d.PutGuild(entity.Guild{ID: 20, OwnerID: 9}, entity.PermissionViewChannel)
	d.PutGuild(entity.Guild{ID: 10, OwnerID: 9}, entity.PermissionViewChannel)
	d.PutMember(entity.GuildMember{GuildID: 20, UserID: 1})
	d.PutMember(entity.GuildMember{GuildID: 10, UserID: 1})
	d.AddParticipant(30, 1, 2)
	d.AddParticipant(30, 1)

	guilds, err := d.GuildIDsForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20}, guilds)

	channels, err := d.ChannelIDsForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{30}, channels)

	d.RemoveMember(20, 1)
	guilds, _ = d.GuildIDsForUser(ctx, 1)
	assert.Equal(t, []uint64{10}, guilds)
}

func TestDirectoryPermissionData(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory()
	d.PutGuild(entity.Guild{ID: 10, OwnerID: 9}, entity.PermissionViewChannel)
	d.PutRole(entity.Role{ID: 11, GuildID: 10, Position: 1, Allow: entity.PermissionAdministrator})

	roles, err := d.GetRoles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, entity.PermissionViewChannel, roles[10].Allow)

	roles[10].Allow = 0
	again, _ := d.GetRoles(ctx, 10)
	assert.Equal(t, entity.PermissionViewChannel, again[10].Allow)

	_, err = d.GetGuild(ctx, 404)
	assert.ErrorIs(t, err, gwerrors.ErrNotFound)
	_, err = d.GetMember(ctx, 10, 1)
	assert.ErrorIs(t, err, gwerrors.ErrNotFound)
	_, err = d.GetChannel(ctx, 1)
	assert.ErrorIs(t, err, gwerrors.ErrNotFound)
}
