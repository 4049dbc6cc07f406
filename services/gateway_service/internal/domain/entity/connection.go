package entity

import "time"

// ClientType 客户端声明的类型
type ClientType string

const (
	ClientTypeWeb     ClientType = "web"
	ClientTypeDesktop ClientType = "desktop"
	ClientTypeIOS     ClientType = "ios"
	ClientTypeAndroid ClientType = "android"
	ClientTypeBot     ClientType = "bot"
)

// ParseClientType 未知类型按 web 处理
func ParseClientType(s string) ClientType {
	switch ClientType(s) {
	case ClientTypeWeb, ClientTypeDesktop, ClientTypeIOS, ClientTypeAndroid, ClientTypeBot:
		return ClientType(s)
	default:
		return ClientTypeWeb
	}
}

// ConnectionInfo 连接的只读描述
type ConnectionInfo struct {
	ID          string     `json:"id"`
	UserID      uint64     `json:"user_id"`
	ClientType  ClientType `json:"client_type"`
	RemoteAddr  string     `json:"remote_addr"`
	ConnectedAt time.Time  `json:"connected_at"`
}
