package errors

import (
	"errors"
	"fmt"
)

var (
	// 认证相关
	ErrAuth         = errors.New("认证失败")
	ErrTokenMissing = fmt.Errorf("%w: 缺少令牌", ErrAuth)
	ErrTokenExpired = fmt.Errorf("%w: 令牌已过期", ErrAuth)
	ErrInvalidToken = fmt.Errorf("%w: 无效的令牌", ErrAuth)

	// 权限计算相关
	ErrNotFound          = errors.New("记录不存在")
	ErrDataInconsistency = errors.New("数据不一致")

	// 在线状态存储相关
	ErrTransientCache = errors.New("在线状态存储暂时不可用")

	// 事件相关
	ErrUnknownEvent      = errors.New("未知的事件类型")
	ErrMissingRoutingKey = errors.New("事件缺少路由键")

	// 会话相关
	ErrSessionClosed     = errors.New("会话已关闭")
	ErrSessionNotFound   = errors.New("会话不存在")
	ErrInvalidTransition = errors.New("非法的状态转换")
)

// NotFoundError 权限计算时 guild/member/channel 缺失
type NotFoundError struct {
	Kind string // guild, member, channel
	ID   uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound 创建 NotFoundError
func NewNotFound(kind string, id uint64) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// DataInconsistencyError 成员引用了不存在的角色等情况
type DataInconsistencyError struct {
	GuildID uint64
	Detail  string
}

func (e *DataInconsistencyError) Error() string {
	return fmt.Sprintf("guild %d: %s", e.GuildID, e.Detail)
}

func (e *DataInconsistencyError) Unwrap() error { return ErrDataInconsistency }

// NewDataInconsistency 创建 DataInconsistencyError
func NewDataInconsistency(guildID uint64, format string, args ...any) error {
	return &DataInconsistencyError{GuildID: guildID, Detail: fmt.Sprintf(format, args...)}
}

// TransientCacheError 包装底层存储错误，保留原始错误
type TransientCacheError struct {
	Op  string
	Err error
}

func (e *TransientCacheError) Error() string {
	return fmt.Sprintf("presence store %s: %v", e.Op, e.Err)
}

func (e *TransientCacheError) Is(target error) bool { return target == ErrTransientCache }

func (e *TransientCacheError) Unwrap() error { return e.Err }

// NewTransientCache 包装存储层错误；err 为 nil 时返回 nil
func NewTransientCache(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientCacheError{Op: op, Err: err}
}
