package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	gwerrors "github.com/EthanQC/guildgate/pkg/errors"
	"github.com/EthanQC/guildgate/pkg/zlog"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/domain/entity"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/in"
)

// 客户端消息
const (
	OpRefresh = "refresh"
	OpPing    = "ping"
)

// ClientMessage 客户端上行帧
type ClientMessage struct {
	Op    string `json:"op"`
	Token string `json:"token,omitempty"`
}

// ErrorPayload error 事件负载
type ErrorPayload struct {
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

// Options WebSocket 服务参数
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	// 为空时不校验 Origin
	AllowedOrigins []string
}

// Server 处理握手并驱动连接的读写循环
type Server struct {
	lifecycle in.LifecycleUseCase
	upgrader  websocket.Upgrader
}

// NewServer 创建 WebSocket 服务
func NewServer(lifecycle in.LifecycleUseCase, opts Options) *Server {
	if opts.ReadBufferSize == 0 {
		opts.ReadBufferSize = 4096
	}
	if opts.WriteBufferSize == 0 {
		opts.WriteBufferSize = 4096
	}
	origins := opts.AllowedOrigins
	return &Server{
		lifecycle: lifecycle,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range origins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}
}

// TokenFromRequest 先取 Authorization 头，再取 token 查询参数
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}

// HandleConnection 升级连接后交给生命周期管理；认证失败时连接以 4001 关闭
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn("WebSocket 升级失败", zlog.Err(err))
		return
	}

	clientType := entity.ParseClientType(r.URL.Query().Get("client_type"))
	conn := newConn(wsConn, clientType, r.RemoteAddr)
	go conn.writePump()

	ctx := zlog.With(context.Background(), zlog.ConnID(conn.ID()))
	if _, err := s.lifecycle.Open(ctx, conn, TokenFromRequest(r)); err != nil {
		return
	}
	go s.readPump(ctx, conn)
}

func (s *Server) readPump(ctx context.Context, c *Conn) {
	defer func() {
		c.Close(websocket.CloseNormalClosure, "")
		s.lifecycle.Close(ctx, c.ID())
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				zlog.C(ctx).Warn("WebSocket 读取异常", zlog.Err(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(ctx, c, data)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *Conn, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		sendError(c, "", "invalid message format")
		return
	}

	switch msg.Op {
	case OpPing:
		if frame, err := entity.NewFrame(entity.EventPong, nil); err == nil {
			c.Send(frame)
		}
	case OpRefresh:
		if err := s.lifecycle.Refresh(ctx, c.ID(), msg.Token); err != nil {
			zlog.C(ctx).Info("刷新令牌失败", zlog.Err(err))
			sendError(c, msg.Op, refreshErrorMessage(err))
		}
	default:
		sendError(c, msg.Op, "unknown op")
	}
}

func refreshErrorMessage(err error) string {
	switch {
	case errors.Is(err, gwerrors.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, gwerrors.ErrAuth):
		return "invalid token"
	case errors.Is(err, gwerrors.ErrSessionClosed):
		return "session closed"
	default:
		return "refresh failed"
	}
}

func sendError(c *Conn, op, message string) {
	if frame, err := entity.NewFrame(entity.EventError, ErrorPayload{Op: op, Message: message}); err == nil {
		c.Send(frame)
	}
}
