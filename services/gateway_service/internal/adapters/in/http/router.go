package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EthanQC/guildgate/pkg/zlog"
	"github.com/EthanQC/guildgate/services/gateway_service/internal/ports/out"
)

// RegistryStats 连接注册表的统计视图
type RegistryStats interface {
	Stats() out.RegistryStats
	TotalOpened() int64
}

// SessionCounter 生命周期管理器当前持有的会话数
type SessionCounter interface {
	SessionCount() int
}

// StatsResponse /stats 的响应体
type StatsResponse struct {
	Connections int   `json:"connections"`
	OnlineUsers int   `json:"online_users"`
	Sessions    int   `json:"sessions"`
	TotalOpened int64 `json:"total_opened"`
}

// Deps 路由依赖
type Deps struct {
	WebSocket http.HandlerFunc
	Registry  RegistryStats
	Sessions  SessionCounter
	Gatherer  prometheus.Gatherer
	Limiter   *RateLimiter // 为 nil 时不限流
}

// NewRouter 注册 /ws、/health、/stats、/metrics、/log/level
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), zlog.GinLogger())

	ws := []gin.HandlerFunc{}
	if d.Limiter != nil {
		ws = append(ws, d.Limiter.Middleware())
	}
	ws = append(ws, gin.WrapF(d.WebSocket))
	r.GET("/ws", ws...)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/stats", func(c *gin.Context) {
		st := d.Registry.Stats()
		c.JSON(http.StatusOK, StatsResponse{
			Connections: st.Connections,
			OnlineUsers: st.OnlineUsers,
			Sessions:    d.Sessions.SessionCount(),
			TotalOpened: d.Registry.TotalOpened(),
		})
	})

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	level := zlog.LevelHandler()
	r.GET("/log/level", level)
	r.PUT("/log/level", level)

	return r
}
