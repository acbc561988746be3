package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/user/moovie-reviews/internal/middleware"
	"github.com/user/moovie-reviews/internal/service"
	"github.com/user/moovie-reviews/internal/utils"
)

// movieRequest 创建和修改电影共用，评分字段不接受客户端写入
type movieRequest struct {
	Title       string  `json:"title" binding:"required"`
	Director    string  `json:"director" binding:"required"`
	ReleaseYear int     `json:"release_year" binding:"required"`
	Genre       string  `json:"genre" binding:"required,genre"`
	PosterURL   *string `json:"poster_url"`
	Description *string `json:"description"`
}

func (r movieRequest) input() service.MovieInput {
	return service.MovieInput{
		Title:       r.Title,
		Director:    r.Director,
		ReleaseYear: r.ReleaseYear,
		Genre:       r.Genre,
		PosterURL:   r.PosterURL,
		Description: r.Description,
	}
}

// ListMovies 电影列表
func (h *Handler) ListMovies(c *gin.Context) {
	movies, err := h.Movies.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, movies)
}

// ListMoviesWithRatings 电影列表，评分按当前评论实时计算
func (h *Handler) ListMoviesWithRatings(c *gin.Context) {
	movies, err := h.Movies.ListWithRatings(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, movies)
}

// GetMovie 电影详情
func (h *Handler) GetMovie(c *gin.Context) {
	movie, err := h.Movies.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, movie)
}

// MovieReviews 某部电影的评论
func (h *Handler) MovieReviews(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		id = c.Param("movieId")
	}
	reviews, err := h.Reviews.ListByMovie(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, reviews)
}

// CreateMovie 添加电影
func (h *Handler) CreateMovie(c *gin.Context) {
	var req movieRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.Movies.Create(c.Request.Context(), middleware.CurrentViewer(c), req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Created(c, "电影已添加", out)
}

// UpdateMovie 修改电影
func (h *Handler) UpdateMovie(c *gin.Context) {
	var req movieRequest
	if !bindJSON(c, &req) {
		return
	}
	movie, err := h.Movies.Update(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id"), req.input())
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "电影已更新", movie)
}

// DeleteMovie 删除电影
func (h *Handler) DeleteMovie(c *gin.Context) {
	out, err := h.Movies.Delete(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "电影已删除", out)
}

// RecomputeMovie 手动重算某部电影的评分
func (h *Handler) RecomputeMovie(c *gin.Context) {
	summary, err := h.Movies.Recompute(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, summary)
}

// ReconcileRatings 立即执行一次全量评分对账
func (h *Handler) ReconcileRatings(c *gin.Context) {
	result, err := h.Reconcile.Trigger(c.Request.Context(), middleware.CurrentViewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, result)
}
