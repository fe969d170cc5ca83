package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
// 设计说明：使用Viper管理配置，支持YAML文件与环境变量覆盖
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MQ        MQConfig        `mapstructure:"mq"`
	Lock      LockConfig      `mapstructure:"lock"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Mode        string `mapstructure:"mode"` // debug | release | test
	MetricsPort int    `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	Charset         string        `mapstructure:"charset"`
	ParseTime       bool          `mapstructure:"parse_time"`
	Loc             string        `mapstructure:"loc"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogMode         bool          `mapstructure:"log_mode"`
}

// DSN 生成MySQL连接字符串
// 格式：user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local
// 注意：loc参数需要URL编码（Asia/Shanghai → Asia%2FShanghai）
func (d DatabaseConfig) DSN() string {
	loc := url.QueryEscape(d.Loc)
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.Charset, d.ParseTime, loc)
}

type RedisConfig struct {
	// Enabled为false时不连接Redis：分布式锁退化为进程内锁，
	// 可售缓存同步关闭（单机部署场景）
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// Addr 返回Redis地址
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type MQConfig struct {
	// Enabled为false时使用进程内broker（单机部署、本地开发）
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

type LockConfig struct {
	// WaitTimeout 获取锁的最长等待时间
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`

	// TTL 锁自动过期时间（持有者崩溃后的自愈上限）
	TTL time.Duration `mapstructure:"ttl"`
}

type ConsumerConfig struct {
	// MaxAttempts 单次投递内的最大尝试次数（首次执行也算一次）
	MaxAttempts int `mapstructure:"max_attempts"`

	// BaseBackoff 首次重试退避（之后指数翻倍）
	BaseBackoff time.Duration `mapstructure:"base_backoff"`

	// DeadLetterRetryCap 死信重放的重试计数上限
	DeadLetterRetryCap int `mapstructure:"dead_letter_retry_cap"`
}

type InventoryConfig struct {
	// LowStockThreshold 新建库存记录的默认告警阈值
	LowStockThreshold int `mapstructure:"low_stock_threshold"`

	// SyncTimeout 可售缓存异步同步超时
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Output string `mapstructure:"output"` // stdout | stderr | /path/to/file
}

// Load 加载配置文件
// 支持：
// 1. 默认加载config/config.yaml
// 2. 通过环境变量SHOPCORE_ENV指定环境（如config.prod.yaml）
// 3. 环境变量覆盖（如SHOPCORE_DATABASE_PASSWORD）
func Load() (*Config, error) {
	v := viper.New()

	// 设置配置文件路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 环境特定配置（如config.prod.yaml）
	if env := viper.GetString("env"); env != "" {
		v.SetConfigName("config." + env)
	}

	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 环境变量绑定（自动转换，如SHOPCORE_DATABASE_PASSWORD → database.password）
	v.SetEnvPrefix("SHOPCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 解析到结构体
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 配置验证
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 缺省值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parse_time", true)
	v.SetDefault("database.loc", "Local")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("lock.wait_timeout", 30*time.Second)
	v.SetDefault("lock.ttl", 10*time.Second)
	v.SetDefault("consumer.max_attempts", 4)
	v.SetDefault("consumer.base_backoff", time.Second)
	v.SetDefault("consumer.dead_letter_retry_cap", 5)
	v.SetDefault("inventory.low_stock_threshold", 10)
	v.SetDefault("inventory.sync_timeout", 3*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
}

// validate 配置校验
func validate(cfg *Config) error {
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("无效的指标端口: %d", cfg.Server.MetricsPort)
	}

	if cfg.Database.Host == "" || cfg.Database.DBName == "" {
		return fmt.Errorf("数据库配置不完整: host=%q dbname=%q", cfg.Database.Host, cfg.Database.DBName)
	}

	if cfg.MQ.Enabled && cfg.MQ.URL == "" {
		return fmt.Errorf("启用RabbitMQ时必须配置mq.url")
	}

	if cfg.Consumer.MaxAttempts < 1 {
		return fmt.Errorf("无效的最大尝试次数: %d", cfg.Consumer.MaxAttempts)
	}

	return nil
}
