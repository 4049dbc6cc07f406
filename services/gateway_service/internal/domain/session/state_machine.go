package session

import (
	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
)

// State 连接生命周期状态
type State string

const (
	StateConnecting    State = "connecting"     // 等待令牌校验
	StateAuthenticated State = "authenticated"  // 已认证
	StateWarningIssued State = "warning_issued" // 已下发过期预警
	StateDisconnected  State = "disconnected"   // 终态
)

// Event 驱动状态转换的事件
type Event string

const (
	EventAuthenticate Event = "authenticate" // 令牌校验通过
	EventAuthFail     Event = "auth_fail"    // 令牌缺失/非法/过期
	EventWarn         Event = "warn"         // 预警定时器触发
	EventRefresh      Event = "refresh"      // 收到新令牌
	EventExpire       Event = "expire"       // 宽限期定时器触发
	EventClose        Event = "close"        // 套接字关闭
)

type stateEvent struct {
	state State
	event Event
}

var transitions = map[stateEvent]State{
	{StateConnecting, EventAuthenticate}: StateAuthenticated,
	{StateConnecting, EventAuthFail}:     StateDisconnected,
	{StateConnecting, EventClose}:        StateDisconnected,
	{StateAuthenticated, EventWarn}:      StateWarningIssued,
	{StateAuthenticated, EventRefresh}:   StateAuthenticated,
	{StateAuthenticated, EventClose}:     StateDisconnected,
	{StateWarningIssued, EventRefresh}:   StateAuthenticated,
	{StateWarningIssued, EventExpire}:    StateDisconnected,
	{StateWarningIssued, EventClose}:     StateDisconnected,
}

// Next 查表得到下一状态
func Next(from State, ev Event) (State, error) {
	if from == StateDisconnected {
		return from, gwerrors.ErrSessionClosed
	}
	to, ok := transitions[stateEvent{from, ev}]
	if !ok {
		return from, gwerrors.ErrInvalidTransition
	}
	return to, nil
}
