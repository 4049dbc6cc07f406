package entity

import (
	"encoding/json"
	"fmt"
	"strings"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
)

// Category 事件类别，封闭枚举
type Category uint8

const (
	CategoryMessage  Category = iota + 1 // message.create|update|delete
	CategoryReaction                     // message.reaction.*
	CategoryTyping                       // channel.typing
	CategoryChannel                      // channel.*
	CategoryGuild                        // guild.*
	CategoryUser                         // user.*
	CategorySession                      // session.*，定向到单个连接
)

func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "message"
	case CategoryReaction:
		return "reaction"
	case CategoryTyping:
		return "typing"
	case CategoryChannel:
		return "channel"
	case CategoryGuild:
		return "guild"
	case CategoryUser:
		return "user"
	case CategorySession:
		return "session"
	default:
		return "unknown"
	}
}

// MessageLevel 需要按频道读权限逐个过滤接收者
func (c Category) MessageLevel() bool {
	return c == CategoryMessage || c == CategoryReaction || c == CategoryTyping
}

// 常用事件名
const (
	EventMessageCreate    = "message.create"
	EventMessageUpdate    = "message.update"
	EventMessageDelete    = "message.delete"
	EventReactionAdd      = "message.reaction.add"
	EventReactionRemove   = "message.reaction.remove"
	EventChannelTyping    = "channel.typing"
	EventChannelUpdate    = "channel.update"
	EventGuildUpdate      = "guild.update"
	EventGuildMemberJoin  = "guild.member.join"
	EventGuildMemberLeave = "guild.member.leave"
	EventUserPresence     = "user.presence"
	EventUserUpdate       = "user.update"
	EventSessionToken     = "session.token"

	// 网关自身下发给客户端的事件
	EventReady            = "ready"
	EventSessionExpiring  = "session.expiring"
	EventSessionRefreshed = "session.refreshed"
	EventPong             = "pong"
	EventError            = "error"
)

// ParseCategory 按命名空间解析事件类别
func ParseCategory(name string) (Category, error) {
	parts := strings.Split(name, ".")
	if len(parts) < 2 || parts[1] == "" {
		return 0, fmt.Errorf("%w: %q", gwerrors.ErrUnknownEvent, name)
	}

	switch parts[0] {
	case "message":
		if parts[1] == "reaction" {
			if len(parts) < 3 || parts[2] == "" {
				return 0, fmt.Errorf("%w: %q", gwerrors.ErrUnknownEvent, name)
			}
			return CategoryReaction, nil
		}
		return CategoryMessage, nil
	case "channel":
		if parts[1] == "typing" {
			return CategoryTyping, nil
		}
		return CategoryChannel, nil
	case "guild":
		return CategoryGuild, nil
	case "user":
		return CategoryUser, nil
	case "session":
		return CategorySession, nil
	default:
		return 0, fmt.Errorf("%w: %q", gwerrors.ErrUnknownEvent, name)
	}
}

// Event 协作方投递过来的领域事件
type Event struct {
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data,omitempty"`
	GuildID   uint64          `json:"guild_id,omitempty"`
	ChannelID uint64          `json:"channel_id,omitempty"`
	UserID    uint64          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// RouteScope 接收者集合的计算方式
type RouteScope uint8

const (
	RouteUser    RouteScope = iota + 1 // 与主体用户同处任一 guild/channel 的在线用户
	RouteGuild                         // guild 在线成员索引
	RouteChannel                       // channel 在线成员索引，成员即有权限
	RouteSession                       // 单个连接
)

func (s RouteScope) String() string {
	switch s {
	case RouteUser:
		return "user"
	case RouteGuild:
		return "guild"
	case RouteChannel:
		return "channel"
	case RouteSession:
		return "session"
	default:
		return "unknown"
	}
}

// Route 事件的路由决定
type Route struct {
	Category Category
	Scope    RouteScope
	ID       uint64 // user/guild/channel id
	// 非 0 时需要逐个接收者校验该频道的 VIEW_CHANNEL
	FilterChannelID uint64
	SessionID       string
}

// Route 根据类别和路由键决定如何计算接收者
func (e *Event) Route() (Route, error) {
	cat, err := ParseCategory(e.Name)
	if err != nil {
		return Route{}, err
	}
	r := Route{Category: cat}

	switch cat {
	case CategoryMessage, CategoryReaction, CategoryTyping:
		if e.ChannelID == 0 {
			return Route{}, e.missing("channel_id")
		}
		if e.GuildID != 0 {
			r.Scope, r.ID, r.FilterChannelID = RouteGuild, e.GuildID, e.ChannelID
		} else {
			r.Scope, r.ID = RouteChannel, e.ChannelID
		}
	case CategoryChannel:
		switch {
		case e.GuildID != 0:
			r.Scope, r.ID = RouteGuild, e.GuildID
		case e.ChannelID != 0:
			r.Scope, r.ID = RouteChannel, e.ChannelID
		default:
			return Route{}, e.missing("guild_id or channel_id")
		}
	case CategoryGuild:
		if e.GuildID == 0 {
			return Route{}, e.missing("guild_id")
		}
		r.Scope, r.ID = RouteGuild, e.GuildID
	case CategoryUser:
		if e.UserID == 0 {
			return Route{}, e.missing("user_id")
		}
		r.Scope, r.ID = RouteUser, e.UserID
	case CategorySession:
		if e.SessionID == "" {
			return Route{}, e.missing("session_id")
		}
		r.Scope, r.SessionID = RouteSession, e.SessionID
	default:
		return Route{}, fmt.Errorf("%w: %q", gwerrors.ErrUnknownEvent, e.Name)
	}
	return r, nil
}

func (e *Event) missing(key string) error {
	return fmt.Errorf("%w: %s requires %s", gwerrors.ErrMissingRoutingKey, e.Name, key)
}

// Frame 下发给客户端的信封
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode 序列化事件为客户端信封，只做一次，所有连接共享同一份字节
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(Frame{Event: e.Name, Data: e.Data})
}

// NewFrame 用任意 payload 构造信封字节
func NewFrame(name string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Frame{Event: name, Data: data})
}

// SessionTokenPayload session.token 事件的负载
type SessionTokenPayload struct {
	Token string `json:"token"`
}
