package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/moovie-reviews/internal/middleware"
	"github.com/user/moovie-reviews/internal/service"
	"github.com/user/moovie-reviews/internal/utils"
)

// MyEvents 当前用户可见的事件
func (h *Handler) MyEvents(c *gin.Context) {
	page, limit := pageParams(c)
	unread, _ := strconv.ParseBool(c.Query("unread"))
	out, err := h.Events.ListForUser(c.Request.Context(), service.ListForUserInput{
		Viewer:     middleware.CurrentViewer(c),
		Page:       page,
		Limit:      limit,
		UnreadOnly: unread,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, out)
}

// MarkEventRead 标记单条已读，重复标记不报错
func (h *Handler) MarkEventRead(c *gin.Context) {
	out, err := h.Events.MarkRead(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, out)
}

// MarkAllEventsRead 全部标记已读
func (h *Handler) MarkAllEventsRead(c *gin.Context) {
	out, err := h.Events.MarkAllRead(c.Request.Context(), middleware.CurrentViewer(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, out)
}

type systemMessageRequest struct {
	Title      string     `json:"title" binding:"required"`
	Message    string     `json:"message" binding:"required"`
	Severity   string     `json:"severity" binding:"omitempty,severity"`
	TargetRole string     `json:"target_role" binding:"omitempty,targetrole"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// CreateSystemMessage 发布系统消息
func (h *Handler) CreateSystemMessage(c *gin.Context) {
	var req systemMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	event, err := h.Events.CreateSystemMessage(c.Request.Context(), middleware.CurrentViewer(c), service.SystemMessageInput{
		Title:      req.Title,
		Message:    req.Message,
		Severity:   req.Severity,
		TargetRole: req.TargetRole,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Created(c, "系统消息已发布", event)
}

// AllEvents 管理员查看全部事件
func (h *Handler) AllEvents(c *gin.Context) {
	page, limit := pageParams(c)
	out, err := h.Events.ListAll(c.Request.Context(), middleware.CurrentViewer(c), service.ListAllInput{
		Type:  c.Query("type"),
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, out)
}

// DeleteEvent 删除事件
func (h *Handler) DeleteEvent(c *gin.Context) {
	if err := h.Events.Delete(c.Request.Context(), middleware.CurrentViewer(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	utils.SuccessWithMessage(c, "事件已删除", nil)
}
