package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/user/moovie-reviews/internal/middleware"
	"github.com/user/moovie-reviews/internal/service"
	"github.com/user/moovie-reviews/internal/utils"
)

type createReviewRequest struct {
	MovieID string `json:"movie_id" binding:"required"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CreateReview 发表评论
func (h *Handler) CreateReview(c *gin.Context) {
	var req createReviewRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.Reviews.Create(c.Request.Context(), service.CreateReviewInput{
		Actor:   middleware.CurrentUser(c),
		MovieID: req.MovieID,
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Created(c, "评论已发表", out)
}

// ListReviews 全部评论（分页）
func (h *Handler) ListReviews(c *gin.Context) {
	page, limit := pageParams(c)
	out, err := h.Reviews.List(c.Request.Context(), page, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, out)
}

// GetReview 评论详情
func (h *Handler) GetReview(c *gin.Context) {
	review, err := h.Reviews.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, review)
}

type updateReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// UpdateReview 修改评论
func (h *Handler) UpdateReview(c *gin.Context) {
	var req updateReviewRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.Reviews.Update(c.Request.Context(), service.UpdateReviewInput{
		Actor:    middleware.CurrentViewer(c),
		ReviewID: c.Param("id"),
		Rating:   req.Rating,
		Comment:  req.Comment,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "评论已更新", out)
}

// DeleteReview 删除评论
func (h *Handler) DeleteReview(c *gin.Context) {
	out, err := h.Reviews.Delete(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "评论已删除", out)
}

// UserReviews 某个用户的评论
func (h *Handler) UserReviews(c *gin.Context) {
	reviews, err := h.Reviews.ListByUser(c.Request.Context(), middleware.CurrentViewer(c), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, reviews)
}

// MyReviews 当前用户的评论
func (h *Handler) MyReviews(c *gin.Context) {
	viewer := middleware.CurrentViewer(c)
	reviews, err := h.Reviews.ListByUser(c.Request.Context(), viewer, viewer.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, reviews)
}

// ReviewStats 评论统计
func (h *Handler) ReviewStats(c *gin.Context) {
	stats, err := h.Reviews.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, stats)
}
