package repository

import (
	"context"
	"errors"

	"github.com/user/moovie-reviews/internal/model"
	"gorm.io/gorm"
)

// editableMovieColumns 可由目录管理修改的列，评分缓存字段不在其中
var editableMovieColumns = []string{"title", "director", "release_year", "genre", "poster_url", "description", "updated_at"}

type MovieRepository struct {
	db *gorm.DB
}

func NewMovieRepository(db *gorm.DB) *MovieRepository {
	return &MovieRepository{db: db}
}

// Create 创建电影，评分缓存从零开始
func (r *MovieRepository) Create(ctx context.Context, movie *model.Movie) error {
	movie.AverageRating = 0
	movie.TotalReviews = 0
	return translate(r.db.WithContext(ctx).Create(movie).Error)
}

// FindByID 根据 ID 查找电影
func (r *MovieRepository) FindByID(ctx context.Context, id string) (*model.Movie, error) {
	var movie model.Movie
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// FindDuplicate 查找标题（不区分大小写）、导演、年份都相同的电影
func (r *MovieRepository) FindDuplicate(ctx context.Context, title, director string, year int, excludeID string) (*model.Movie, error) {
	q := r.db.WithContext(ctx).
		Where("LOWER(title) = LOWER(?) AND LOWER(director) = LOWER(?) AND release_year = ?", title, director, year)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var movie model.Movie
	err := q.First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// List 获取全部电影，最新创建在前
func (r *MovieRepository) List(ctx context.Context) ([]model.Movie, error) {
	var movies []model.Movie
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&movies).Error
	return movies, err
}

// Update 更新可编辑字段，不会写入评分缓存
func (r *MovieRepository) Update(ctx context.Context, movie *model.Movie) error {
	res := r.db.WithContext(ctx).Model(movie).Select(editableMovieColumns).Updates(movie)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRating 写入评分缓存，只供评分聚合使用
func (r *MovieRepository) UpdateRating(ctx context.Context, movieID string, summary model.RatingSummary) error {
	res := r.db.WithContext(ctx).Model(&model.Movie{}).Where("id = ?", movieID).
		Updates(map[string]any{
			"average_rating": summary.Average,
			"total_reviews":  summary.Count,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 删除电影及其全部评论
func (r *MovieRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("movie_id = ?", id).Delete(&model.Review{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Movie{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// LiveRatings 直接从评论表计算每部电影的评分数量与总分
func (r *MovieRepository) LiveRatings(ctx context.Context) (map[string]LiveRating, error) {
	var rows []struct {
		MovieID string
		Total   int64
		Count   int64
	}
	err := r.db.WithContext(ctx).Model(&model.Review{}).
		Select("movie_id, SUM(rating) AS total, COUNT(*) AS count").
		Group("movie_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]LiveRating, len(rows))
	for _, row := range rows {
		out[row.MovieID] = LiveRating{Sum: row.Total, Count: row.Count}
	}
	return out, nil
}

// LiveRating 评论表中的实时汇总
type LiveRating struct {
	Sum   int64
	Count int64
}

// IDsAfter 按主键分页遍历电影 ID，用于对账
func (r *MovieRepository) IDsAfter(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Movie{}).
		Where("id > ?", afterID).Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}
