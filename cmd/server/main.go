package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/user/moovie-reviews/internal/config"
	"github.com/user/moovie-reviews/internal/handler"
	"github.com/user/moovie-reviews/internal/metrics"
	"github.com/user/moovie-reviews/internal/middleware"
	"github.com/user/moovie-reviews/internal/repository"
	"github.com/user/moovie-reviews/internal/router"
	"github.com/user/moovie-reviews/internal/service"
)

func main() {
	// 加载环境变量
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("未找到 .env 文件，使用系统环境变量")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}
	setupLogger(cfg)

	// 初始化数据库
	db, err := repository.InitDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("数据库连接失败")
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	// 初始化仓库
	repos := repository.NewRepositories(db)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	} else {
		m = metrics.New(nil)
	}

	// 事件广播，未配置时不发布
	var publisher service.EventPublisher = service.NoopPublisher{}
	if cfg.RabbitMQ.URL != "" {
		p, err := service.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ 不可用，事件不再对外广播")
		} else {
			publisher = p
			log.Info().Str("queue", cfg.RabbitMQ.Queue).Msg("事件广播已启用")
		}
	}
	defer publisher.Close()

	tokens := middleware.NewTokenManager(cfg.AppSecret, cfg.JWTExpiry)

	// 初始化 Handler
	h := handler.NewHandler(repos, cfg, tokens, publisher, m, log.Logger)
	if err := handler.RegisterValidators(); err != nil {
		log.Fatal().Err(err).Msg("注册校验规则失败")
	}

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 10*time.Second)
	if err := h.Auth.EnsureAdmin(bootCtx, cfg.BootstrapAdmin); err != nil {
		log.Error().Err(err).Msg("创建初始管理员失败")
	}
	cancelBoot()

	// 限流器：配置了 Redis 时多实例共享额度
	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		limiter = newLimiter(cfg)
	}

	// 初始化 Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 中间件
	r.Use(middleware.Logger(log.Logger, m))
	r.Use(middleware.Security())
	r.Use(middleware.CORS())

	opts := router.Options{Tokens: tokens, Limiter: limiter, Metrics: m}
	if cfg.MetricsEnabled {
		opts.MetricsHandler = promhttp.Handler()
	}

	// 注册路由
	router.RegisterRoutes(r, h, opts)

	// 启动定时评分对账
	h.Reconcile.Start()
	defer h.Reconcile.Stop()

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("服务器启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("服务器启动失败")
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("正在关闭服务器...")

	// 5 秒超时上下文用于关闭过程
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("服务器强制关闭")
	}

	log.Info().Msg("服务器已退出")
}

// setupLogger 开发环境输出可读格式，其余环境输出 JSON
func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func newLimiter(cfg *config.Config) middleware.Limiter {
	if cfg.Redis.Addr == "" {
		return middleware.NewMemoryLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis 不可用，改用进程内限流")
		_ = client.Close()
		return middleware.NewMemoryLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("使用 Redis 限流")
	return middleware.NewRedisLimiter(client, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}
