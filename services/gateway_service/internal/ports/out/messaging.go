package out

import (
	"context"
	"time"

	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
)

// EventPublisher 发布网关自身产生的领域事件
type EventPublisher interface {
	// PublishPresenceChange 用户首条连接建立或最后一条连接断开
	PublishPresenceChange(ctx context.Context, event *entity.PresenceEvent) error
	Close() error
}

// TokenClaims 令牌解析结果
type TokenClaims struct {
	UserID    uint64
	ExpiresAt time.Time
}

// TokenCodec 令牌解析，失败时返回包装了 ErrAuth 的错误
type TokenCodec interface {
	Decode(token string) (*TokenClaims, error)
}

// EventConsumer 从协作方拉取领域事件并交给路由
type EventConsumer interface {
	Start(ctx context.Context) error
	Stop() error
}
