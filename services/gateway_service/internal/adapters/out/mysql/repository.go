package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// DirectoryRepositoryMySQL 成员关系与权限数据的只读 MySQL 实现
type DirectoryRepositoryMySQL struct {
	db *gorm.DB
}

var (
	_ out.MembershipRepository = (*DirectoryRepositoryMySQL)(nil)
	_ out.PermissionRepository = (*DirectoryRepositoryMySQL)(nil)
)

func NewDirectoryRepositoryMySQL(db *gorm.DB) *DirectoryRepositoryMySQL {
	return &DirectoryRepositoryMySQL{db: db}
}

func (r *DirectoryRepositoryMySQL) GuildIDsForUser(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&MemberModel{}).
		Where("user_id = ?", userID).
		Pluck("guild_id", &ids).Error
	return ids, err
}

func (r *DirectoryRepositoryMySQL) ChannelIDsForUser(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&ParticipantModel{}).
		Where("user_id = ?", userID).
		Pluck("channel_id", &ids).Error
	return ids, err
}

func (r *DirectoryRepositoryMySQL) GetGuild(ctx context.Context, guildID uint64) (*entity.Guild, error) {
	var model GuildModel
	err := r.db.WithContext(ctx).Where("id = ?", guildID).Take(&model).Error
	if err != nil {
		return nil, notFound(err, "guild", guildID)
	}
	return model.toEntity(), nil
}

func (r *DirectoryRepositoryMySQL) GetMember(ctx context.Context, guildID, userID uint64) (*entity.GuildMember, error) {
	var model MemberModel
	err := r.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Take(&model).Error
	if err != nil {
		return nil, notFound(err, "member", userID)
	}

	var roleIDs []uint64
	err = r.db.WithContext(ctx).Model(&MemberRoleModel{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Pluck("role_id", &roleIDs).Error
	if err != nil {
		return nil, err
	}
	return model.toEntity(roleIDs), nil
}

func (r *DirectoryRepositoryMySQL) GetRoles(ctx context.Context, guildID uint64) (map[uint64]*entity.Role, error) {
	var models []RoleModel
	if err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).Find(&models).Error; err != nil {
		return nil, err
	}
	roles := make(map[uint64]*entity.Role, len(models))
	for i := range models {
		roles[models[i].ID] = models[i].toEntity()
	}
	return roles, nil
}

func (r *DirectoryRepositoryMySQL) GetChannel(ctx context.Context, channelID uint64) (*entity.Channel, error) {
	var model ChannelModel
	err := r.db.WithContext(ctx).Where("id = ?", channelID).Take(&model).Error
	if err != nil {
		return nil, notFound(err, "channel", channelID)
	}

	var overwrites []OverwriteModel
	if err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).Find(&overwrites).Error; err != nil {
		return nil, err
	}
	return model.toEntity(overwrites), nil
}

func notFound(err error, kind string, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return gwerrors.NewNotFound(kind, id)
	}
	return err
}
