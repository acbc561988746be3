package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/user/moovie-reviews/internal/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 创建用户，密码在这里做哈希
func (r *UserRepository) Create(ctx context.Context, user *model.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hash)
	user.Email = strings.ToLower(user.Email)
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	return translate(r.db.WithContext(ctx).Create(user).Error)
}

// FindByEmail 根据邮箱查找用户（不区分大小写）
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email = ?", strings.ToLower(email))
}

// FindByUsername 根据用户名查找用户
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

// FindByID 根据 ID 查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CheckPassword 验证密码
func (r *UserRepository) CheckPassword(user *model.User, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	return err == nil
}

// UpdateProfile 更新用户名和邮箱
func (r *UserRepository) UpdateProfile(ctx context.Context, userID, username, email string) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).
		Updates(map[string]any{"username": username, "email": strings.ToLower(email)})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRole 更新用户角色
func (r *UserRepository) UpdateRole(ctx context.Context, userID, role string) error {
	return r.updateColumn(ctx, userID, "role", role)
}

// SetDeactivated 启用或停用账号
func (r *UserRepository) SetDeactivated(ctx context.Context, userID string, deactivated bool) error {
	return r.updateColumn(ctx, userID, "is_deactivated", deactivated)
}

func (r *UserRepository) updateColumn(ctx context.Context, userID, column string, value any) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List 分页获取用户列表，最新注册在前
func (r *UserRepository) List(ctx context.Context, offset, limit int) ([]model.User, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []model.User
	err := r.db.WithContext(ctx).Order("created_at DESC").Offset(offset).Limit(limit).Find(&users).Error
	return users, total, err
}

// Delete 删除用户及其评论，返回受影响的电影 ID 以便重新聚合评分
func (r *UserRepository) Delete(ctx context.Context, userID string) ([]string, error) {
	var movieIDs []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		if err := tx.Model(&model.Review{}).Where("user_id = ?", userID).
			Distinct().Pluck("movie_id", &movieIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.Review{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.EventRead{}).Error; err != nil {
			return err
		}
		targeted := tx.Model(&model.Event{}).Select("id").Where("target_user_id = ?", userID)
		if err := tx.Where("event_id IN (?)", targeted).Delete(&model.EventRead{}).Error; err != nil {
			return err
		}
		if err := tx.Where("target_user_id = ?", userID).Delete(&model.Event{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Event{}).Where("created_by_id = ?", userID).
			Update("created_by_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", userID).Delete(&model.User{}).Error
	})
	if err != nil {
		return nil, err
	}
	return movieIDs, nil
}

// RoleCount 按角色统计
type RoleCount struct {
	Role  string `json:"role"`
	Count int64  `json:"count"`
}

// Count 获取用户总数
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Count(&count).Error
	return count, err
}

// CountByRole 按角色分组统计
func (r *UserRepository) CountByRole(ctx context.Context) ([]RoleCount, error) {
	var rows []RoleCount
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Select("role, COUNT(*) AS count").Group("role").Order("role").Scan(&rows).Error
	return rows, err
}

// CreatedSince 返回指定时间之后注册用户的注册时间
func (r *UserRepository) CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	var times []time.Time
	err := r.db.WithContext(ctx).Model(&model.User{}).
		Where("created_at >= ?", since).Order("created_at").Pluck("created_at", &times).Error
	return times, err
}

// ReviewerStat 评论数排行
type ReviewerStat struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	ReviewCount int64  `json:"review_count"`
}

// TopReviewers 评论最多的用户
func (r *UserRepository) TopReviewers(ctx context.Context, limit int) ([]ReviewerStat, error) {
	var rows []ReviewerStat
	err := r.db.WithContext(ctx).Table("reviews").
		Select("users.id AS user_id, users.username AS username, users.email AS email, COUNT(reviews.id) AS review_count").
		Joins("JOIN users ON users.id = reviews.user_id").
		Group("users.id, users.username, users.email").
		Order("review_count DESC, users.username ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
