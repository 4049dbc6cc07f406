package zlog

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// MustInitGlobal 创建 logger 并替换 zap 全局实例，返回的函数用于退出前 Sync
func MustInitGlobal(cfg Config) func() {
	l, err := New(cfg)
	if err != nil {
		panic(err)
	}
	undo := zap.ReplaceGlobals(l)
	stop := setupSignalHandler()
	return func() {
		stop()
		_ = l.Sync()
		undo()
	}
}

// setupSignalHandler 监听 SIGHUP 在 debug 与配置级别之间切换
func setupSignalHandler() func() {
	base := GetLevel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	go func() {
		for range c {
			if GetLevel() == "debug" {
				SetLevel(base)
			} else {
				SetLevel("debug")
			}
			zap.L().Info("log level toggled", zap.String("now", GetLevel()))
		}
	}()
	return func() {
		signal.Stop(c)
		close(c)
	}
}
