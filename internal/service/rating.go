package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/user/moovie-reviews/internal/metrics"
	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/repository"
)

// RatingReader 读取某部电影的全部评分
type RatingReader interface {
	RatingsByMovie(ctx context.Context, movieID string) ([]int, error)
}

// RatingWriter 写入电影的评分缓存
type RatingWriter interface {
	UpdateRating(ctx context.Context, movieID string, summary model.RatingSummary) error
}

// RatingAggregator 根据当前评论集合重新计算电影的平均分和评论数
// 电影上的 average_rating / total_reviews 只由这里写入
type RatingAggregator struct {
	reviews RatingReader
	movies  RatingWriter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRatingAggregator 创建评分聚合器
func NewRatingAggregator(reviews RatingReader, movies RatingWriter, m *metrics.Metrics, logger zerolog.Logger) *RatingAggregator {
	return &RatingAggregator{
		reviews: reviews,
		movies:  movies,
		metrics: m,
		logger:  logger.With().Str("service", "rating").Logger(),
	}
}

// Recompute 重算并写回，返回写入的结果
func (a *RatingAggregator) Recompute(ctx context.Context, movieID string) (model.RatingSummary, error) {
	ratings, err := a.reviews.RatingsByMovie(ctx, movieID)
	if err != nil {
		return model.RatingSummary{}, fmt.Errorf("读取电影 %s 的评分失败: %w", movieID, err)
	}

	summary := model.SummarizeRatings(ratings)
	if err := a.movies.UpdateRating(ctx, movieID, summary); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.RatingSummary{}, ErrMovieNotFound
		}
		return model.RatingSummary{}, fmt.Errorf("写入电影 %s 的评分失败: %w", movieID, err)
	}

	if a.metrics != nil {
		a.metrics.RatingRecomputes.Inc()
	}
	a.logger.Debug().
		Str("movie_id", movieID).
		Float64("average", summary.Average).
		Int64("count", summary.Count).
		Msg("评分已重算")
	return summary, nil
}

// RecomputeAfter 作为附带操作执行重算，失败不影响主操作
func (a *RatingAggregator) RecomputeAfter(ctx context.Context, effects *SideEffects, movieID string) EffectResult {
	return effects.Run(ctx, "recompute_rating", func(ctx context.Context) error {
		_, err := a.Recompute(ctx, movieID)
		return err
	})
}
