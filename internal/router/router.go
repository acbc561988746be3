package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/moovie-reviews/internal/handler"
	"github.com/user/moovie-reviews/internal/metrics"
	"github.com/user/moovie-reviews/internal/middleware"
)

// Options 路由依赖的中间件组件
type Options struct {
	Tokens *middleware.TokenManager
	// Limiter 为 nil 时不限流
	Limiter middleware.Limiter
	Metrics *metrics.Metrics
	// MetricsHandler 为 nil 时不暴露 /metrics
	MetricsHandler http.Handler
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler, opts Options) {
	// 健康检查
	r.GET("/health", h.Health)
	if opts.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	requireAuth := middleware.RequireAuth(opts.Tokens, h.Repos.User)
	requireAdmin := middleware.RequireAdmin()

	api := r.Group("/api")
	if opts.Limiter != nil {
		api.Use(middleware.RateLimit(opts.Limiter, opts.Metrics))
	}

	// ==================== 认证 ====================
	auth := api.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}

	// ==================== 电影 ====================
	movies := api.Group("/movies")
	{
		movies.GET("", h.ListMovies)
		movies.GET("/with-ratings", h.ListMoviesWithRatings)
		movies.GET("/:id", h.GetMovie)
		movies.GET("/:id/reviews", requireAuth, h.MovieReviews)

		movies.POST("", requireAuth, requireAdmin, h.CreateMovie)
		movies.PUT("/:id", requireAuth, requireAdmin, h.UpdateMovie)
		movies.DELETE("/:id", requireAuth, requireAdmin, h.DeleteMovie)
		movies.POST("/:id/recompute", requireAuth, requireAdmin, h.RecomputeMovie)
		movies.POST("/reconcile", requireAuth, requireAdmin, h.ReconcileRatings)
	}

	// ==================== 评论 ====================
	reviews := api.Group("/reviews")
	{
		reviews.GET("", h.ListReviews)
		reviews.GET("/:id", h.GetReview)
		reviews.GET("/movie/:movieId", h.MovieReviews)

		reviews.POST("", requireAuth, h.CreateReview)
		reviews.PUT("/:id", requireAuth, h.UpdateReview)
		reviews.DELETE("/:id", requireAuth, h.DeleteReview)
		reviews.GET("/user/:userId", requireAuth, h.UserReviews)
		reviews.GET("/admin/stats", requireAuth, requireAdmin, h.ReviewStats)
	}

	// ==================== 用户（需要登录）====================
	users := api.Group("/users")
	users.Use(requireAuth)
	{
		users.GET("/profile", h.Profile)
		users.PUT("/profile", h.UpdateProfile)
		users.GET("/reviews", h.MyReviews)
		users.GET("/:id", h.GetUser)

		users.GET("/stats", requireAdmin, h.UserStats)
		users.GET("", requireAdmin, h.ListUsers)
		users.PUT("/:id/role", requireAdmin, h.ChangeRole)
		users.PUT("/:id/status", requireAdmin, h.SetStatus)
		users.DELETE("/:id", requireAdmin, h.DeleteUser)
	}

	// ==================== 事件通知（需要登录）====================
	events := api.Group("/events")
	events.Use(requireAuth)
	{
		events.GET("/my", h.MyEvents)
		events.PUT("/:id/read", h.MarkEventRead)
		events.PUT("/read-all", h.MarkAllEventsRead)

		events.POST("/system-message", requireAdmin, h.CreateSystemMessage)
		events.GET("/admin/all", requireAdmin, h.AllEvents)
		events.DELETE("/:id", requireAdmin, h.DeleteEvent)
	}
}
