package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const defaultSecret = "your-secret-key-change-in-production"

// Config 应用配置
type Config struct {
	Env       string
	AppSecret string
	JWTExpiry time.Duration
	Port      string
	LogLevel  string

	Database DatabaseConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	TMDB     TMDBConfig

	RateLimit RateLimitConfig

	// ReconcileInterval 评分对账周期，0 表示关闭
	ReconcileInterval time.Duration
	// SideEffectTimeout 单个附带操作（评分重算、事件创建）的超时时间
	SideEffectTimeout time.Duration

	MetricsEnabled bool
	BootstrapAdmin AdminConfig
}

// DatabaseConfig 数据库配置，支持 postgres 和 sqlite
type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	Path         string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN 返回 postgres 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig Redis 配置，Addr 为空表示不启用
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig 事件广播配置，URL 为空表示不启用
type RabbitMQConfig struct {
	URL   string
	Queue string
}

// TMDBConfig 海报查询配置
type TMDBConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// AdminConfig 启动时自动创建的管理员账号
type AdminConfig struct {
	Email    string
	Username string
	Password string
}

// Load 加载配置：默认值 < 配置文件（CONFIG_FILE）< 环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	appSecret := v.GetString("APP_SECRET")
	if appSecret == "" {
		appSecret = v.GetString("JWT_SECRET")
	}
	if appSecret == "" {
		appSecret = defaultSecret
	}

	cfg := &Config{
		Env:       v.GetString("APP_ENV"),
		AppSecret: appSecret,
		JWTExpiry: time.Duration(v.GetInt("JWT_EXPIRY_HOURS")) * time.Hour,
		Port:      v.GetString("PORT"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		Database: DatabaseConfig{
			Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetString("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			Name:         v.GetString("DB_NAME"),
			SSLMode:      v.GetString("DB_SSLMODE"),
			Path:         v.GetString("DB_PATH"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   v.GetString("RABBITMQ_URL"),
			Queue: v.GetString("EVENTS_QUEUE"),
		},
		TMDB: TMDBConfig{
			APIKey:  v.GetString("TMDB_API_KEY"),
			BaseURL: v.GetString("TMDB_BASE_URL"),
			Timeout: v.GetDuration("TMDB_TIMEOUT"),
		},
		RateLimit: RateLimitConfig{
			Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:     v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:   v.GetInt("RATE_LIMIT_BURST"),
		},
		ReconcileInterval: v.GetDuration("RECONCILE_INTERVAL"),
		SideEffectTimeout: v.GetDuration("SIDE_EFFECT_TIMEOUT"),
		MetricsEnabled:    v.GetBool("METRICS_ENABLED"),
		BootstrapAdmin: AdminConfig{
			Email:    v.GetString("ADMIN_EMAIL"),
			Username: v.GetString("ADMIN_USERNAME"),
			Password: v.GetString("ADMIN_PASSWORD"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}

	if cfg.IsProduction() && cfg.AppSecret == defaultSecret {
		log.Warn().Msg("【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("JWT_EXPIRY_HOURS", 168)
	v.SetDefault("PORT", "5000")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "moovie_reviews")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_PATH", "./data/moovie.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("EVENTS_QUEUE", "moovie.events")

	v.SetDefault("TMDB_BASE_URL", "https://api.themoviedb.org/3")
	v.SetDefault("TMDB_TIMEOUT", 5*time.Second)

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	v.SetDefault("RECONCILE_INTERVAL", time.Hour)
	v.SetDefault("SIDE_EFFECT_TIMEOUT", 5*time.Second)
	v.SetDefault("METRICS_ENABLED", true)
}

// Validate 检查配置合法性
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("postgres 需要 DB_HOST 和 DB_NAME")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("sqlite 需要 DB_PATH")
		}
	default:
		return fmt.Errorf("DB_DRIVER 必须是 postgres 或 sqlite，当前为 %q", c.Database.Driver)
	}

	if c.JWTExpiry <= 0 {
		return fmt.Errorf("JWT_EXPIRY_HOURS 必须大于 0")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS 和 RATE_LIMIT_BURST 必须大于 0")
	}
	if c.SideEffectTimeout <= 0 {
		return fmt.Errorf("SIDE_EFFECT_TIMEOUT 必须大于 0")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL 不能为负数")
	}
	return nil
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
