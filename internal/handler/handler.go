package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/user/moovie-reviews/internal/config"
	"github.com/user/moovie-reviews/internal/metrics"
	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/repository"
	"github.com/user/moovie-reviews/internal/service"
	"github.com/user/moovie-reviews/internal/utils"
)

// Handler HTTP 处理器
type Handler struct {
	Repos     *repository.Repositories
	Config    *config.Config
	Auth      *service.AuthService
	Movies    *service.MovieService
	Reviews   *service.ReviewService
	Users     *service.UserService
	Events    *service.EventService
	Reconcile *service.ReconcileService

	logger zerolog.Logger
}

// NewHandler 创建处理器并组装所有服务
func NewHandler(repos *repository.Repositories, cfg *config.Config, tokens service.TokenIssuer, publisher service.EventPublisher, m *metrics.Metrics, logger zerolog.Logger) *Handler {
	effects := service.NewSideEffects(cfg.SideEffectTimeout, m, logger)
	rating := service.NewRatingAggregator(repos.Review, repos.Movie, m, logger)
	events := service.NewEventService(repos.Event, publisher, m, logger)

	// 未配置 TMDB 时 posters 为 nil，创建电影时跳过海报查询
	var posters service.PosterLookup
	if p := service.NewPosterService(cfg.TMDB, logger); p != nil {
		posters = p
	}

	return &Handler{
		Repos:     repos,
		Config:    cfg,
		Auth:      service.NewAuthService(repos.User, tokens, events, effects, logger),
		Movies:    service.NewMovieService(repos.Movie, rating, events, posters, effects, logger),
		Reviews:   service.NewReviewService(repos.Review, repos.Movie, rating, events, effects, logger),
		Users:     service.NewUserService(repos.User, repos.Review, rating, events, effects, logger),
		Events:    events,
		Reconcile: service.NewReconcileService(repos.Movie, rating, m, logger, cfg.ReconcileInterval),
		logger:    logger.With().Str("component", "handler").Logger(),
	}
}

// RegisterValidators 在 gin 的校验器上注册业务枚举标签
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("不支持的校验器类型 %T", binding.Validator.Engine())
	}
	tags := map[string]func(string) bool{
		"genre":      model.IsValidGenre,
		"role":       model.IsValidRole,
		"severity":   model.IsValidSeverity,
		"eventtype":  model.IsValidEventType,
		"targetrole": model.IsValidTargetRole,
	}
	for tag, fn := range tags {
		check := fn
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String())
		}); err != nil {
			return fmt.Errorf("注册校验标签 %s 失败: %w", tag, err)
		}
	}
	return nil
}

// Health 健康检查，数据库不可用时返回 503
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.Repos.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("健康检查失败")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail 把服务层错误映射为 HTTP 响应
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.BadRequest(c, verr.Error())
	case errors.Is(err, service.ErrUnauthorized):
		utils.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		utils.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		utils.NotFound(c, err.Error())
	case errors.Is(err, service.ErrConflict):
		utils.Conflict(c, err.Error())
	default:
		_ = c.Error(err)
		h.logger.Error().Err(err).Str("method", c.Request.Method).Str("path", c.Request.URL.Path).Msg("请求处理失败")
		msg := ""
		if h.Config.Env == "development" {
			msg = "服务器内部错误: " + err.Error()
		}
		utils.InternalServerError(c, msg)
	}
}

// bindJSON 解析请求体，失败时直接写 400
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequest(c, bindErrorMessage(err))
		return false
	}
	return true
}

func bindErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "无效的请求数据"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s 不能为空", fe.Field()))
		case "genre", "role", "severity", "eventtype", "targetrole":
			msgs = append(msgs, fmt.Sprintf("%s 取值不合法: %v", fe.Field(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s 校验失败 (%s)", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// pageParams 读取 page / limit 查询参数，非法值交给服务层归一化
func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return page, limit
}
