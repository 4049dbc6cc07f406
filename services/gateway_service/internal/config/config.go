package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/EthanQC/guildgate/pkg/zlog"
)

// 存储驱动
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
)

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	AdvertiseAddr   string        `mapstructure:"advertise_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WSConfig struct {
	ReadBufferSize  int      `mapstructure:"read_buffer_size"`
	WriteBufferSize int      `mapstructure:"write_buffer_size"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

type SessionConfig struct {
	WarningLead time.Duration `mapstructure:"warning_lead"`
	Grace       time.Duration `mapstructure:"grace"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	Leeway time.Duration `mapstructure:"leeway"`
}

// StorageConfig presence: memory|redis，directory: memory|mysql
type StorageConfig struct {
	Presence  string `mapstructure:"presence"`
	Directory string `mapstructure:"directory"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	// 每个实例都要收到全部事件，消费组名追加主机名
	PerInstanceGroup bool   `mapstructure:"per_instance_group"`
	EventsTopic      string `mapstructure:"events_topic"`
	SessionTopic     string `mapstructure:"session_topic"`
	OffsetNewest     bool   `mapstructure:"offset_newest"`
	Version          string `mapstructure:"version"`
}

type RouterConfig struct {
	FanoutWorkers int `mapstructure:"fanout_workers"`
}

type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// PresenceConfig 共享存储里在线数据的 TTL 与本实例心跳间隔
type PresenceConfig struct {
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SnapshotMaxAge    time.Duration `mapstructure:"snapshot_max_age"`
	SnapshotMaxCount  int           `mapstructure:"snapshot_max_count"`
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Global  float64       `mapstructure:"global_qps"`
	PerIP   float64       `mapstructure:"ip_qps"`
	Burst   float64       `mapstructure:"burst"`
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

// Config 网关配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WS        WSConfig        `mapstructure:"ws"`
	Session   SessionConfig   `mapstructure:"session"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Router    RouterConfig    `mapstructure:"router"`
	Retry     RetryConfig     `mapstructure:"presence_retry"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       zlog.Config     `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8084)
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("ws.read_buffer_size", 4096)
	v.SetDefault("ws.write_buffer_size", 4096)

	v.SetDefault("session.warning_lead", "60s")
	v.SetDefault("session.grace", "60s")

	v.SetDefault("jwt.leeway", "5s")

	v.SetDefault("storage.presence", DriverMemory)
	v.SetDefault("storage.directory", DriverMemory)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.key_prefix", "gw:presence")

	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 50)

	v.SetDefault("kafka.group_id", serviceName)
	v.SetDefault("kafka.per_instance_group", true)
	v.SetDefault("kafka.events_topic", "im.gateway.events")
	v.SetDefault("kafka.session_topic", "im.gateway.session")
	v.SetDefault("kafka.offset_newest", true)

	v.SetDefault("router.fanout_workers", 16)

	v.SetDefault("presence_retry.max_tries", 2)
	v.SetDefault("presence_retry.initial_interval", "50ms")
	v.SetDefault("presence_retry.max_interval", "500ms")

	v.SetDefault("presence.ttl", "3m")
	v.SetDefault("presence.heartbeat_interval", "1m")
	v.SetDefault("presence.snapshot_max_age", "5m")
	v.SetDefault("presence.snapshot_max_count", 4096)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.global_qps", 500)
	v.SetDefault("rate_limit.ip_qps", 5)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.idle_ttl", "1h")

}

const serviceName = "gateway-service"

// Env 读取 APP_ENV，默认 dev
func Env() string {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env
	}
	return "dev"
}

// Load 读取 configs/config.{env}.yaml，GATEWAY_ 前缀的环境变量可覆盖任意键
// 如 GATEWAY_JWT_SECRET、GATEWAY_KAFKA_BROKERS
func Load(env string, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs", "../configs", "./services/gateway_service/configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置失败：%w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败：%w", err)
	}
	// 环境变量给的是逗号分隔字符串
	cfg.Kafka.Brokers = splitList(v.GetStringSlice("kafka.brokers"))
	cfg.WS.AllowedOrigins = splitList(v.GetStringSlice("ws.allowed_origins"))

	logCfg, err := zlog.FromViper(v, "log")
	if err != nil {
		return nil, err
	}
	if logCfg.Service == "unknown" {
		logCfg.Service = serviceName
	}
	cfg.Log = *logCfg

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必填项与驱动取值
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("配置错误：jwt.secret 不能为空")
	}
	switch c.Storage.Presence {
	case DriverMemory, DriverRedis:
	default:
		return fmt.Errorf("配置错误：storage.presence 只能是 memory/redis")
	}
	switch c.Storage.Directory {
	case DriverMemory, DriverMySQL:
	default:
		return fmt.Errorf("配置错误：storage.directory 只能是 memory/mysql")
	}
	if c.Storage.Directory == DriverMySQL && c.MySQL.DSN == "" {
		return fmt.Errorf("配置错误：mysql.dsn 不能为空")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("配置错误：kafka.brokers 不能为空")
	}
	if c.Session.WarningLead < 0 || c.Session.Grace < 0 {
		return fmt.Errorf("配置错误：session 时长不能为负")
	}
	if c.Presence.HeartbeatInterval <= 0 || c.Presence.HeartbeatInterval >= c.Presence.TTL {
		return fmt.Errorf("配置错误：presence.heartbeat_interval 必须大于 0 且小于 presence.ttl")
	}
	if c.Router.FanoutWorkers <= 0 {
		c.Router.FanoutWorkers = 16
	}
	if c.Retry.MaxTries == 0 {
		c.Retry.MaxTries = 1
	}
	return nil
}

// ConsumerGroupID 开启 per_instance_group 时追加主机名
func (c *Config) ConsumerGroupID(hostname string) string {
	if !c.Kafka.PerInstanceGroup || hostname == "" {
		return c.Kafka.GroupID
	}
	return c.Kafka.GroupID + "-" + hostname
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
