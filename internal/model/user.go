package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 用户角色
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// IsValidRole 判断是否为合法的用户角色
func IsValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

// User 用户模型
type User struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Username      string    `json:"username" gorm:"size:30;not null;uniqueIndex"`
	Email         string    `json:"email" gorm:"size:255;not null;uniqueIndex"`
	PasswordHash  string    `json:"-" gorm:"not null"`
	Role          string    `json:"role" gorm:"size:16;not null;default:user;index"`
	IsDeactivated bool      `json:"is_deactivated" gorm:"not null;default:false"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BeforeCreate 生成主键
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// IsAdmin 是否管理员
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Viewer 返回用于事件可见性判断的身份
func (u *User) Viewer() Viewer {
	return Viewer{UserID: u.ID, Role: u.Role}
}

// UserSummary 关联展示用的精简用户信息
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Summary 转换为精简信息
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role}
}
