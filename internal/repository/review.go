package repository

import (
	"context"
	"errors"
	"time"

	"github.com/user/moovie-reviews/internal/model"
	"gorm.io/gorm"
)

type ReviewRepository struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create 创建评论，(movie_id, user_id) 冲突返回 ErrDuplicate
func (r *ReviewRepository) Create(ctx context.Context, review *model.Review) error {
	return translate(r.db.WithContext(ctx).Omit("User", "Movie").Create(review).Error)
}

// FindByID 根据 ID 查找评论，附带作者和电影
func (r *ReviewRepository) FindByID(ctx context.Context, id string) (*model.Review, error) {
	var review model.Review
	err := r.db.WithContext(ctx).Preload("User").Preload("Movie").Where("id = ?", id).First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// FindByMovieAndUser 查找某用户对某电影的评论
func (r *ReviewRepository) FindByMovieAndUser(ctx context.Context, movieID, userID string) (*model.Review, error) {
	var review model.Review
	err := r.db.WithContext(ctx).Where("movie_id = ? AND user_id = ?", movieID, userID).First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// RatingsByMovie 某部电影的全部评分
func (r *ReviewRepository) RatingsByMovie(ctx context.Context, movieID string) ([]int, error) {
	var ratings []int
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Where("movie_id = ?", movieID).Pluck("rating", &ratings).Error
	return ratings, err
}

// List 分页获取全部评论
func (r *ReviewRepository) List(ctx context.Context, offset, limit int) ([]model.Review, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Review{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var reviews []model.Review
	err := r.db.WithContext(ctx).Preload("User").Preload("Movie").
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&reviews).Error
	return reviews, total, err
}

// ListByMovie 某部电影的评论，附带作者
func (r *ReviewRepository) ListByMovie(ctx context.Context, movieID string) ([]model.Review, error) {
	var reviews []model.Review
	err := r.db.WithContext(ctx).Preload("User").
		Where("movie_id = ?", movieID).Order("created_at DESC").Find(&reviews).Error
	return reviews, err
}

// ListByUser 某用户的评论，附带电影
func (r *ReviewRepository) ListByUser(ctx context.Context, userID string) ([]model.Review, error) {
	var reviews []model.Review
	err := r.db.WithContext(ctx).Preload("Movie").
		Where("user_id = ?", userID).Order("created_at DESC").Find(&reviews).Error
	return reviews, err
}

// UpdateContent 更新评分和内容
func (r *ReviewRepository) UpdateContent(ctx context.Context, id string, rating int, comment string) error {
	res := r.db.WithContext(ctx).Model(&model.Review{}).Where("id = ?", id).
		Updates(map[string]any{"rating": rating, "comment": comment})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除评论
func (r *ReviewRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Review{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByUser 某用户的评论数
func (r *ReviewRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Review{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// SumRatings 全部评分的总和与数量
func (r *ReviewRepository) SumRatings(ctx context.Context) (LiveRating, error) {
	var row LiveRating
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Select("COALESCE(SUM(rating), 0) AS sum, COUNT(*) AS count").
		Scan(&row).Error
	return row, err
}

// CreatedSince 返回指定时间之后发表评论的时间
func (r *ReviewRepository) CreatedSince(ctx context.Context, since time.Time) ([]time.Time, error) {
	var times []time.Time
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Where("created_at >= ?", since).Order("created_at").Pluck("created_at", &times).Error
	return times, err
}
