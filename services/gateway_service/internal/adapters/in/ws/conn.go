package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/EthanQC/guildgate/pkg/zlog"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// Pong等待时间
	pongWait = 60 * time.Second
	// Ping周期（必须小于pongWait）
	pingPeriod = 30 * time.Second
	// 最大消息大小
	maxMessageSize = 64 * 1024
	// 发送队列长度
	sendBufferSize = 256
)

// Conn 一条 WebSocket 连接，出站帧只由 writePump 写出，保证单连接内有序
type Conn struct {
	ws   *websocket.Conn
	id   string
	info entity.ConnectionInfo

	userID atomic.Uint64
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	delivered atomic.Int64
}

var _ out.Connection = (*Conn)(nil)

func newConn(ws *websocket.Conn, clientType entity.ClientType, remoteAddr string) *Conn {
	id := uuid.NewString()
	return &Conn{
		ws: ws,
		id: id,
		info: entity.ConnectionInfo{
			ID:          id,
			ClientType:  clientType,
			RemoteAddr:  remoteAddr,
			ConnectedAt: time.Now(),
		},
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() uint64 { return c.userID.Load() }

func (c *Conn) BindUser(userID uint64) { c.userID.Store(userID) }

func (c *Conn) Info() entity.ConnectionInfo {
	info := c.info
	info.UserID = c.UserID()
	return info
}

// Send 非阻塞入队；队列满说明客户端太慢，直接丢弃
func (c *Conn) Send(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close 发送关闭帧并通知 writePump 退出
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		close(c.done)
		_ = c.ws.Close()
	})
}

// Delivered 已写出的帧数
func (c *Conn) Delivered() int64 { return c.delivered.Load() }

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				zlog.Debug("写入失败", zlog.ConnID(c.id), zlog.Err(err))
				c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
			c.delivered.Add(1)

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
