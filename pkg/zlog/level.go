package zlog

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var dynamicLevel = zap.NewAtomicLevel() // 全局可变级别
var levelName atomic.Value              // 字符串形式

func initLevel(lvl string) {
	levelName.Store(strings.ToLower(lvl))
	dynamicLevel.SetLevel(parseLevel(lvl))
}

// parseLevel 将字符串转 zapcore.Level
func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetLevel 热更新日志级别；非法值按 info 处理
func SetLevel(lvl string) {
	l := parseLevel(lvl)
	dynamicLevel.SetLevel(l)
	levelName.Store(l.String())
}

// GetLevel 返回当前级别字符串
func GetLevel() string {
	if v, ok := levelName.Load().(string); ok && v != "" {
		return v
	}
	return "info"
}

// LevelHandler 注册到 /log/level，GET 返回当前级别，PUT ?v=debug 修改
func LevelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPut {
			lvl := c.Query("v")
			if lvl == "" {
				lvl = c.PostForm("v")
			}
			SetLevel(lvl)
		}
		c.String(http.StatusOK, GetLevel())
	}
}
