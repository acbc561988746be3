package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 事件类型
const (
	EventSystemMessage  = "system_message"
	EventReviewDeleted  = "review_deleted"
	EventReviewCreated  = "review_created"
	EventUserRegistered = "user_registered"
	EventMovieAdded     = "movie_added"
	EventMovieDeleted   = "movie_deleted"
	EventMaintenance    = "maintenance"
	EventAnnouncement   = "announcement"
	EventUserDeleted    = "user_deleted"
)

// EventTypes 允许的事件类型
var EventTypes = []string{
	EventSystemMessage, EventReviewDeleted, EventReviewCreated, EventUserRegistered,
	EventMovieAdded, EventMovieDeleted, EventMaintenance, EventAnnouncement, EventUserDeleted,
}

// 严重程度
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeveritySuccess = "success"
)

// 目标角色，TargetAll 对所有登录用户可见
const (
	TargetUser      = "user"
	TargetModerator = "moderator"
	TargetAdmin     = "admin"
	TargetAll       = "all"
)

// 关联实体类型
const (
	EntityMovie  = "movie"
	EntityUser   = "user"
	EntityReview = "review"
)

// 事件文本约束
const (
	MaxEventTitleLength   = 100
	MaxEventMessageLength = 500
)

// IsValidEventType 判断事件类型
func IsValidEventType(t string) bool {
	for _, v := range EventTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IsValidSeverity 判断严重程度
func IsValidSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeveritySuccess:
		return true
	}
	return false
}

// IsValidTargetRole 判断目标角色
func IsValidTargetRole(r string) bool {
	switch r {
	case TargetUser, TargetModerator, TargetAdmin, TargetAll:
		return true
	}
	return false
}

// IsValidEntityType 判断关联实体类型
func IsValidEntityType(t string) bool {
	return t == EntityMovie || t == EntityUser || t == EntityReview
}

// RelatedEntity 事件关联的实体，用于客户端跳转
type RelatedEntity struct {
	Type  string `json:"type" gorm:"size:16"`
	ID    string `json:"id" gorm:"size:36"`
	Title string `json:"title" gorm:"size:200"`
}

// IsZero 是否未设置
func (r RelatedEntity) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// Event 通知事件
// 创建后只会追加已读记录，删除只能由管理员操作
type Event struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	Type     string `json:"type" gorm:"size:32;not null;index"`
	Title    string `json:"title" gorm:"size:100;not null"`
	Message  string `json:"message" gorm:"size:500;not null"`
	Severity string `json:"severity" gorm:"size:16;not null;default:info"`

	TargetUserID *string `json:"target_user_id" gorm:"size:36;index"`
	TargetRole   string  `json:"target_role" gorm:"size:16;index"`

	RelatedEntity RelatedEntity `json:"related_entity" gorm:"embedded;embeddedPrefix:related_"`
	ActionURL     string        `json:"action_url,omitempty" gorm:"size:500"`

	IsActive  bool       `json:"is_active" gorm:"not null;index"`
	ExpiresAt *time.Time `json:"expires_at" gorm:"index"`

	CreatedByID *string `json:"created_by_id" gorm:"size:36"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	CreatedBy  *User `json:"created_by,omitempty" gorm:"foreignKey:CreatedByID;constraint:OnDelete:SET NULL"`
	TargetUser *User `json:"target_user,omitempty" gorm:"foreignKey:TargetUserID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate 生成主键，过期时间统一存为 UTC
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExpiresAt != nil {
		t := e.ExpiresAt.UTC()
		e.ExpiresAt = &t
	}
	return nil
}

// EventRead 已读回执，(event_id, user_id) 唯一，只增不删
type EventRead struct {
	ID      uint      `json:"-" gorm:"primaryKey"`
	EventID string    `json:"event_id" gorm:"size:36;not null;uniqueIndex:idx_event_read_user"`
	UserID  string    `json:"user_id" gorm:"size:36;not null;uniqueIndex:idx_event_read_user;index"`
	ReadAt  time.Time `json:"read_at" gorm:"not null"`
}

// Viewer 查看事件的身份
type Viewer struct {
	UserID string
	Role   string
}

// Expired 是否已过期
func (e *Event) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// VisibleTo 可见性判断：启用、未过期，且目标用户是自己、目标角色匹配或为 all
func (e *Event) VisibleTo(v Viewer, now time.Time) bool {
	if !e.IsActive || e.Expired(now) {
		return false
	}
	if e.TargetUserID != nil && *e.TargetUserID == v.UserID {
		return true
	}
	return e.TargetRole == TargetAll || (e.TargetRole != "" && e.TargetRole == v.Role)
}

// EventView 带当前用户已读状态的事件
type EventView struct {
	Event
	IsReadByUser bool `json:"is_read_by_user"`
}
