package token

import (
	"time"

	"github.com/EthanQC/guildgate/pkg/jwt"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
)

// JWTCodec 用 HS256 共享密钥解析身份服务签发的访问令牌
type JWTCodec struct {
	manager jwt.Manager
	now     func() time.Time
}

var _ out.TokenCodec = (*JWTCodec)(nil)

// NewJWTCodec 创建令牌解析器
func NewJWTCodec(manager jwt.Manager) *JWTCodec {
	return &JWTCodec{manager: manager, now: time.Now}
}

// Decode 解析令牌；leeway 内刚过期的令牌也视为过期
func (c *JWTCodec) Decode(token string) (*out.TokenClaims, error) {
	claims, err := c.manager.Decode(token)
	if err != nil {
		return nil, err
	}
	if !claims.ExpiresAt.After(c.now()) {
		return nil, gwerrors.ErrTokenExpired
	}
	return &out.TokenClaims{UserID: claims.UserID, ExpiresAt: claims.ExpiresAt}, nil
}
