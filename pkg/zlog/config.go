package zlog

import (
	"fmt"
	"strings"

	"github.com/spf13/viper" // 配置管理工具库
)

// 本地轮转文件策略
// tag 被 viper 用来匹配字段
type FileConfig struct {
	Path       string `mapstructure:"path"`        // 日志文件路径
	MaxSizeMB  int    `mapstructure:"max_size"`    // 单个日志文件最大容量（MB）
	MaxBackups int    `mapstructure:"max_backups"` // 保留旧文件数量
	MaxAgeDay  int    `mapstructure:"max_age"`     // 最长保存天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧日志文件
}

// 日志配置
type Config struct {
	Service      string     `mapstructure:"service"`       // 归属服务名
	Level        string     `mapstructure:"level"`         // 日志级别，debug|info|warn|error
	Encoding     string     `mapstructure:"encoding"`      // 输出格式，json|console
	Development  bool       `mapstructure:"development"`   // 开发模式使用 development encoder
	Stdout       bool       `mapstructure:"stdout"`        // 是否把日志同时输出到控制台
	File         FileConfig `mapstructure:"file"`          // 文件相关配置
	EnableMetric bool       `mapstructure:"enable_metric"` // 是否上报 Prometheus 指标
}

// SetDefaults 在传入的 viper 实例上登记日志相关默认值，prefix 为所在小节（如 "log"）
func SetDefaults(v *viper.Viper, prefix string) {
	key := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	v.SetDefault(key("service"), "unknown")
	v.SetDefault(key("level"), "info")
	v.SetDefault(key("encoding"), "json")
	v.SetDefault(key("stdout"), true)
	v.SetDefault(key("file.max_size"), 100)
	v.SetDefault(key("file.max_backups"), 60)
	v.SetDefault(key("file.max_age"), 7)
	v.SetDefault(key("enable_metric"), true)
}

// FromViper 从 viper 的某个小节解析日志配置并校验
func FromViper(v *viper.Viper, prefix string) (*Config, error) {
	SetDefaults(v, prefix)

	var cfg Config
	var err error
	if prefix == "" {
		err = v.Unmarshal(&cfg)
	} else {
		err = v.UnmarshalKey(prefix, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("加载日志配置失败：%w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 严格校验，并为文件输出补齐缺省值
func (cfg *Config) Validate() error {
	if cfg.Service == "" {
		return fmt.Errorf("配置错误：service 不能为空")
	}

	cfg.Level = strings.ToLower(cfg.Level)
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("配置错误：level 只能是 debug/info/warn/error")
	}

	switch cfg.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("配置错误：encoding 只能是 json/console")
	}

	// 如果启用了 stdout，允许不设置文件路径
	if !cfg.Stdout && cfg.File.Path == "" {
		return fmt.Errorf("配置错误：stdout 为 false 时，file.path 不能为空")
	}

	if cfg.File.Path != "" {
		if cfg.File.MaxSizeMB <= 0 {
			cfg.File.MaxSizeMB = 100
		}
		if cfg.File.MaxBackups < 0 {
			cfg.File.MaxBackups = 60
		}
		if cfg.File.MaxAgeDay < 0 {
			cfg.File.MaxAgeDay = 7
		}
	}
	return nil
}
