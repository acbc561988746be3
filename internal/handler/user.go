package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/user/moovie-reviews/internal/middleware"
	"github.com/user/moovie-reviews/internal/service"
	"github.com/user/moovie-reviews/internal/utils"
)

// Profile 当前用户资料
func (h *Handler) Profile(c *gin.Context) {
	profile, err := h.Users.Profile(c.Request.Context(), middleware.CurrentViewer(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, profile)
}

type updateProfileRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UpdateProfile 修改用户名或邮箱
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.Users.UpdateProfile(c.Request.Context(), middleware.CurrentViewer(c).UserID, service.UpdateProfileInput{
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "资料已更新", user)
}

// UserStats 用户统计
func (h *Handler) UserStats(c *gin.Context) {
	stats, err := h.Users.Stats(c.Request.Context(), middleware.CurrentViewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, stats)
}

// ListUsers 用户列表
func (h *Handler) ListUsers(c *gin.Context) {
	page, limit := pageParams(c)
	out, err := h.Users.List(c.Request.Context(), middleware.CurrentViewer(c), page, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, out)
}

// GetUser 用户详情，本人或管理员可查看
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.Users.Get(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, user)
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required,role"`
}

// ChangeRole 修改用户角色
func (h *Handler) ChangeRole(c *gin.Context) {
	var req changeRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.Users.ChangeRole(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id"), req.Role)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "角色已更新", user)
}

type setStatusRequest struct {
	IsDeactivated *bool `json:"is_deactivated" binding:"required"`
}

// SetStatus 停用或启用账号
func (h *Handler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.Users.SetStatus(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id"), *req.IsDeactivated)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "账号状态已更新", user)
}

// DeleteUser 删除用户
func (h *Handler) DeleteUser(c *gin.Context) {
	out, err := h.Users.Delete(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "用户已删除", out)
}
