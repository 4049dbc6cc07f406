package mysql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
)

func newMockRepo(t *testing.T) (*DirectoryRepositoryMySQL, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	return NewDirectoryRepositoryMySQL(db), mock
}

func TestGuildIDsForUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT `guild_id` FROM `guild_members` WHERE user_id = \\?").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"guild_id"}).AddRow(10).AddRow(20))

	ids, err := repo.GuildIDsForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChannelIDsForUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT `channel_id` FROM `channel_participants` WHERE user_id = \\?").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"channel_id"}).AddRow(30))

	ids, err := repo.ChannelIDsForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []uint64{30}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetGuildNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT \\* FROM `guilds` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id"}))

	_, err := repo.GetGuild(context.Background(), 100)
	assert.ErrorIs(t, err, gwerrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMemberWithOverwriteAndRoles(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT \\* FROM `guild_members` WHERE guild_id = \\? AND user_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"guild_id", "user_id", "overwrite_allow", "overwrite_deny"}).
			AddRow(100, 7, uint64(entity.PermissionKickMembers), nil))
	mock.ExpectQuery("SELECT `role_id` FROM `guild_member_roles` WHERE guild_id = \\? AND user_id = \\?").
		WithArgs(100, 7).
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(201).AddRow(202))

	m, err := repo.GetMember(context.Background(), 100, 7)
	require.NoError(t, err)
	assert.Equal(t, []uint64{201, 202}, m.RoleIDs)
	require.NotNil(t, m.Overwrite)
	assert.Equal(t, entity.PermissionKickMembers, m.Overwrite.Allow)
	assert.Equal(t, entity.PermissionNone, m.Overwrite.Deny)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRoles(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT \\* FROM `guild_roles` WHERE guild_id = \\?").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "guild_id", "name", "position", "allow", "deny"}).
			AddRow(100, 100, "@everyone", 0, uint64(entity.PermissionViewChannel), 0).
			AddRow(201, 100, "VIP", 1, uint64(entity.PermissionSendMessages), uint64(entity.PermissionViewChannel)))

	roles, err := repo.GetRoles(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, 1, roles[201].Position)
	assert.Equal(t, entity.PermissionViewChannel, roles[201].Deny)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChannelWithOverwrites(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT \\* FROM `channels` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "guild_id", "type"}).AddRow(300, 100, 0))
	mock.ExpectQuery("SELECT \\* FROM `channel_overwrites` WHERE channel_id = \\?").
		WithArgs(300).
		WillReturnRows(sqlmock.NewRows([]string{"channel_id", "target_id", "kind", "allow", "deny"}).
			AddRow(300, 100, 0, 0, uint64(entity.PermissionSendMessages)).
			AddRow(300, 7, 1, uint64(entity.PermissionSendMessages), 0))

	ch, err := repo.GetChannel(context.Background(), 300)
	require.NoError(t, err)
	assert.True(t, ch.InGuild())
	require.Len(t, ch.Overwrites, 2)
	assert.Equal(t, entity.OverwriteMember, ch.Overwrites[1].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDirectChannel(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT \\* FROM `channels` WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "guild_id", "type"}).AddRow(400, nil, 1))
	mock.ExpectQuery("SELECT \\* FROM `channel_overwrites` WHERE channel_id = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"channel_id", "target_id", "kind", "allow", "deny"}))

	ch, err := repo.GetChannel(context.Background(), 400)
	require.NoError(t, err)
	assert.False(t, ch.InGuild())
	assert.Equal(t, entity.ChannelTypeDirect, ch.Type)
	assert.Empty(t, ch.Overwrites)
}
