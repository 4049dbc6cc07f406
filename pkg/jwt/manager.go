package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
)

// Claims 网关关心的令牌内容
type Claims struct {
	UserID    uint64
	SessionID string // jti
	ExpiresAt time.Time
}

// Manager 负责访问令牌的解析；Generate 仅供测试和压测工具使用
type Manager interface {
	Generate(userID uint64, ttl time.Duration) (string, error)
	Decode(tokenStr string) (*Claims, error)
}

type manager struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// Option 配置 Manager
type Option func(*manager)

// WithIssuer 要求令牌的 iss 与之匹配
func WithIssuer(iss string) Option {
	return func(m *manager) { m.issuer = iss }
}

// WithLeeway 允许的时钟偏差
func WithLeeway(d time.Duration) Option {
	return func(m *manager) { m.leeway = d }
}

// NewManager 用给定的 secret 构造 Manager
func NewManager(secret string, opts ...Option) Manager {
	m := &manager{secret: []byte(secret)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate 生成一个 subject 为用户ID 的 HS256 令牌
func (m *manager) Generate(userID uint64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatUint(userID, 10),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Decode 验签并解析令牌；缺失、过期、非法都会返回包装了 ErrAuth 的错误
func (m *manager) Decode(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return nil, gwerrors.ErrTokenMissing
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
	}
	if m.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.issuer))
	}

	tok, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(_ *jwt.Token) (any, error) {
		return m.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, gwerrors.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", gwerrors.ErrInvalidToken, err)
	}

	rc, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return nil, gwerrors.ErrInvalidToken
	}
	userID, err := strconv.ParseUint(rc.Subject, 10, 64)
	if err != nil || userID == 0 {
		return nil, fmt.Errorf("%w: bad subject %q", gwerrors.ErrInvalidToken, rc.Subject)
	}

	return &Claims{
		UserID:    userID,
		SessionID: rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}, nil
}
