package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/user/moovie-reviews/internal/metrics"
	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/repository"
)

const (
	defaultEventPageSize      = 20
	defaultAdminEventPageSize = 50
	// markAllReadConcurrency 全部已读时并发写回执的上限
	markAllReadConcurrency = 8
)

// EventService 通知事件引擎
type EventService struct {
	events    EventStore
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEventService 创建事件服务，publisher 为 nil 时不广播
func NewEventService(events EventStore, publisher EventPublisher, m *metrics.Metrics, logger zerolog.Logger) *EventService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &EventService{
		events:    events,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With().Str("service", "event").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateEventInput 创建事件的参数
type CreateEventInput struct {
	Type          string
	Title         string
	Message       string
	Severity      string
	TargetUserID  string
	TargetRole    string
	RelatedEntity *model.RelatedEntity
	ActionURL     string
	ExpiresAt     *time.Time
	CreatedByID   string
}

// Create 创建事件
// 未指定目标用户时 TargetRole 默认为 all；同时指定用户和角色时两者取并集
func (s *EventService) Create(ctx context.Context, in CreateEventInput) (*model.Event, error) {
	event, err := s.buildEvent(in)
	if err != nil {
		return nil, err
	}

	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("创建事件失败: %w", err)
	}

	if s.metrics != nil {
		s.metrics.EventsCreated.WithLabelValues(event.Type).Inc()
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("事件广播失败")
	}
	return event, nil
}

func (s *EventService) buildEvent(in CreateEventInput) (*model.Event, error) {
	if !model.IsValidEventType(in.Type) {
		return nil, invalid("type", "不支持的事件类型 %q", in.Type)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title", "标题不能为空")
	}
	if utf8.RuneCountInString(title) > model.MaxEventTitleLength {
		return nil, invalid("title", "标题不能超过 %d 个字符", model.MaxEventTitleLength)
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, invalid("message", "内容不能为空")
	}
	if utf8.RuneCountInString(message) > model.MaxEventMessageLength {
		return nil, invalid("message", "内容不能超过 %d 个字符", model.MaxEventMessageLength)
	}

	severity := in.Severity
	if severity == "" {
		severity = model.SeverityInfo
	}
	if !model.IsValidSeverity(severity) {
		return nil, invalid("severity", "不支持的严重程度 %q", severity)
	}

	targetRole := in.TargetRole
	if targetRole == "" && in.TargetUserID == "" {
		targetRole = model.TargetAll
	}
	if targetRole != "" && !model.IsValidTargetRole(targetRole) {
		return nil, invalid("target_role", "不支持的目标角色 %q", targetRole)
	}

	event := &model.Event{
		Type:       in.Type,
		Title:      title,
		Message:    message,
		Severity:   severity,
		TargetRole: targetRole,
		ActionURL:  in.ActionURL,
		IsActive:   true,
	}
	// sqlite 以文本保存时间，统一为 UTC 才能按字符串比较
	if in.ExpiresAt != nil {
		t := in.ExpiresAt.UTC()
		event.ExpiresAt = &t
	}
	if in.TargetUserID != "" {
		id := in.TargetUserID
		event.TargetUserID = &id
	}
	if in.CreatedByID != "" {
		id := in.CreatedByID
		event.CreatedByID = &id
	}
	if in.RelatedEntity != nil && !in.RelatedEntity.IsZero() {
		if !model.IsValidEntityType(in.RelatedEntity.Type) {
			return nil, invalid("related_entity.type", "不支持的实体类型 %q", in.RelatedEntity.Type)
		}
		event.RelatedEntity = *in.RelatedEntity
	}
	return event, nil
}

// Notify 作为附带操作创建事件，失败只记录
func (s *EventService) Notify(ctx context.Context, effects *SideEffects, in CreateEventInput) EffectResult {
	return effects.Run(ctx, "event:"+in.Type, func(ctx context.Context) error {
		_, err := s.Create(ctx, in)
		return err
	})
}

// ListForUserInput 用户事件列表参数
type ListForUserInput struct {
	Viewer     model.Viewer
	Page       int
	Limit      int
	UnreadOnly bool
}

// ListForUserOutput 用户事件列表
type ListForUserOutput struct {
	Events      []model.EventView `json:"events"`
	Pagination  Pagination        `json:"pagination"`
	UnreadCount int64             `json:"unread_count"`
}

// ListForUser 返回对该用户可见的事件，最新在前
func (s *EventService) ListForUser(ctx context.Context, in ListForUserInput) (*ListForUserOutput, error) {
	page, limit, offset := normalizePage(in.Page, in.Limit, defaultEventPageSize)
	now := s.now()

	total, err := s.events.CountVisible(ctx, in.Viewer, now, in.UnreadOnly)
	if err != nil {
		return nil, fmt.Errorf("统计事件失败: %w", err)
	}
	unread, err := s.events.CountVisible(ctx, in.Viewer, now, true)
	if err != nil {
		return nil, fmt.Errorf("统计未读事件失败: %w", err)
	}
	views, err := s.events.ListVisible(ctx, in.Viewer, now, in.UnreadOnly, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("获取事件失败: %w", err)
	}

	return &ListForUserOutput{
		Events:      views,
		Pagination:  newPagination(page, limit, total),
		UnreadCount: unread,
	}, nil
}

// MarkReadOutput 标记已读结果
type MarkReadOutput struct {
	EventID     string `json:"event_id"`
	AlreadyRead bool   `json:"already_read"`
}

// MarkRead 标记单个事件已读，重复调用不会产生第二条回执
func (s *EventService) MarkRead(ctx context.Context, v model.Viewer, eventID string) (*MarkReadOutput, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	now := s.now()
	if !event.VisibleTo(v, now) {
		return nil, ErrEventNotVisible
	}

	inserted, err := s.events.AddRead(ctx, eventID, v.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("写入已读记录失败: %w", err)
	}
	return &MarkReadOutput{EventID: eventID, AlreadyRead: !inserted}, nil
}

// MarkAllReadOutput 全部已读结果
type MarkAllReadOutput struct {
	Marked int `json:"marked"`
	Failed int `json:"failed"`
}

// MarkAllRead 把当前可见且未读的事件全部标记已读
// 每条回执独立写入，单条失败不影响其余
func (s *EventService) MarkAllRead(ctx context.Context, v model.Viewer) (*MarkAllReadOutput, error) {
	now := s.now()
	ids, err := s.events.VisibleUnreadIDs(ctx, v, now)
	if err != nil {
		return nil, fmt.Errorf("查询未读事件失败: %w", err)
	}

	var marked, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(markAllReadConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			inserted, err := s.events.AddRead(ctx, id, v.UserID, now)
			if err != nil {
				failed.Add(1)
				s.logger.Warn().Err(err).Str("event_id", id).Str("user_id", v.UserID).Msg("标记已读失败")
				return nil
			}
			if inserted {
				marked.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return &MarkAllReadOutput{Marked: int(marked.Load()), Failed: int(failed.Load())}, nil
}

// Delete 管理员硬删除事件
func (s *EventService) Delete(ctx context.Context, actor model.Viewer, eventID string) error {
	if actor.Role != model.RoleAdmin {
		return ErrAdminOnly
	}
	if err := s.events.Delete(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEventNotFound
		}
		return fmt.Errorf("删除事件失败: %w", err)
	}
	s.logger.Info().Str("event_id", eventID).Str("admin_id", actor.UserID).Msg("事件已删除")
	return nil
}

// ListAllInput 管理员事件列表参数
type ListAllInput struct {
	Type  string
	Page  int
	Limit int
}

// AdminEventView 管理员视角的事件，附带已读人数
type AdminEventView struct {
	model.Event
	ReadCount int64 `json:"read_count"`
}

// ListAllOutput 管理员事件列表
type ListAllOutput struct {
	Events     []AdminEventView `json:"events"`
	Pagination Pagination       `json:"pagination"`
}

// ListAll 管理员查看全部事件，不做可见性过滤
func (s *EventService) ListAll(ctx context.Context, actor model.Viewer, in ListAllInput) (*ListAllOutput, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	if in.Type != "" && !model.IsValidEventType(in.Type) {
		return nil, invalid("type", "不支持的事件类型 %q", in.Type)
	}
	page, limit, offset := normalizePage(in.Page, in.Limit, defaultAdminEventPageSize)

	events, total, err := s.events.ListAll(ctx, in.Type, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("获取事件失败: %w", err)
	}
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	counts, err := s.events.ReadCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("统计已读失败: %w", err)
	}

	views := make([]AdminEventView, len(events))
	for i, e := range events {
		views[i] = AdminEventView{Event: e, ReadCount: counts[e.ID]}
	}
	return &ListAllOutput{Events: views, Pagination: newPagination(page, limit, total)}, nil
}

// SystemMessageInput 系统消息参数
type SystemMessageInput struct {
	Title      string
	Message    string
	Severity   string
	TargetRole string
	ExpiresAt  *time.Time
}

// CreateSystemMessage 管理员发布系统消息，默认发给所有人
func (s *EventService) CreateSystemMessage(ctx context.Context, actor model.Viewer, in SystemMessageInput) (*model.Event, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, invalid("expires_at", "过期时间必须晚于当前时间")
	}
	targetRole := in.TargetRole
	if targetRole == "" {
		targetRole = model.TargetAll
	}
	return s.Create(ctx, CreateEventInput{
		Type:        model.EventSystemMessage,
		Title:       in.Title,
		Message:     in.Message,
		Severity:    in.Severity,
		TargetRole:  targetRole,
		ExpiresAt:   in.ExpiresAt,
		CreatedByID: actor.UserID,
	})
}
