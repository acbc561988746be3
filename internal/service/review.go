package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/repository"
)

const defaultReviewPageSize = 100

// ReviewService 评论相关的业务流程
// 评论写入是主操作，评分重算和通知在提交后作为附带操作执行
type ReviewService struct {
	reviews ReviewStore
	movies  MovieStore
	rating  *RatingAggregator
	events  *EventService
	effects *SideEffects
	logger  zerolog.Logger
	now     func() time.Time
}

// NewReviewService 创建评论服务
func NewReviewService(reviews ReviewStore, movies MovieStore, rating *RatingAggregator, events *EventService, effects *SideEffects, logger zerolog.Logger) *ReviewService {
	return &ReviewService{
		reviews: reviews,
		movies:  movies,
		rating:  rating,
		events:  events,
		effects: effects,
		logger:  logger.With().Str("service", "review").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func validateReview(rating int, comment string) (string, error) {
	if !model.IsRatingInRange(rating) {
		return "", invalid("rating", "评分必须在 %d 到 %d 之间", model.MinRating, model.MaxRating)
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return "", invalid("comment", "评论内容不能为空")
	}
	if utf8.RuneCountInString(comment) > model.MaxCommentLength {
		return "", invalid("comment", "评论内容不能超过 %d 个字符", model.MaxCommentLength)
	}
	return comment, nil
}

// CreateReviewInput 发表评论参数
type CreateReviewInput struct {
	Actor   *model.User
	MovieID string
	Rating  int
	Comment string
}

// ReviewOutput 评论写操作的结果，Effects 为附带操作的执行情况
type ReviewOutput struct {
	Review  *model.Review `json:"review"`
	Effects Effects       `json:"effects,omitempty"`
}

// Create 发表评论，同一用户对同一电影只能评论一次
func (s *ReviewService) Create(ctx context.Context, in CreateReviewInput) (*ReviewOutput, error) {
	if in.MovieID == "" {
		return nil, invalid("movie_id", "电影 ID 不能为空")
	}
	comment, err := validateReview(in.Rating, in.Comment)
	if err != nil {
		return nil, err
	}

	movie, err := s.movies.FindByID(ctx, in.MovieID)
	if err != nil {
		return nil, fmt.Errorf("查询电影失败: %w", err)
	}
	if movie == nil {
		return nil, ErrMovieNotFound
	}

	// 预检查只是优化，最终由唯一索引保证
	existing, err := s.reviews.FindByMovieAndUser(ctx, in.MovieID, in.Actor.ID)
	if err != nil {
		return nil, fmt.Errorf("查询评论失败: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateReview
	}

	review := &model.Review{
		MovieID: in.MovieID,
		UserID:  in.Actor.ID,
		Rating:  in.Rating,
		Comment: comment,
	}
	if err := s.reviews.Create(ctx, review); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateReview
		}
		return nil, fmt.Errorf("创建评论失败: %w", err)
	}
	review.User = in.Actor
	review.Movie = movie

	out := &ReviewOutput{Review: review}
	out.Effects = append(out.Effects, s.rating.RecomputeAfter(ctx, s.effects, movie.ID))
	out.Effects = append(out.Effects, s.events.Notify(ctx, s.effects, CreateEventInput{
		Type:       model.EventReviewCreated,
		Title:      "新评论",
		Message:    fmt.Sprintf("%s 评论了《%s》", in.Actor.Username, movie.Title),
		Severity:   model.SeverityInfo,
		TargetRole: model.TargetAdmin,
		RelatedEntity: &model.RelatedEntity{
			Type:  model.EntityReview,
			ID:    review.ID,
			Title: movie.Title,
		},
		ActionURL:   "/movie/" + movie.ID,
		CreatedByID: in.Actor.ID,
	}))

	s.logger.Info().Str("review_id", review.ID).Str("movie_id", movie.ID).Str("user_id", in.Actor.ID).Msg("评论已创建")
	return out, nil
}

// Get 获取单条评论
func (s *ReviewService) Get(ctx context.Context, id string) (*model.Review, error) {
	review, err := s.reviews.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("查询评论失败: %w", err)
	}
	if review == nil {
		return nil, ErrReviewNotFound
	}
	return review, nil
}

// ListReviewsOutput 评论分页列表
type ListReviewsOutput struct {
	Reviews    []model.Review `json:"reviews"`
	Pagination Pagination     `json:"pagination"`
}

// List 分页获取全部评论，最新在前
func (s *ReviewService) List(ctx context.Context, page, limit int) (*ListReviewsOutput, error) {
	page, limit, offset := normalizePage(page, limit, defaultReviewPageSize)
	reviews, total, err := s.reviews.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("获取评论失败: %w", err)
	}
	return &ListReviewsOutput{Reviews: reviews, Pagination: newPagination(page, limit, total)}, nil
}

// ListByMovie 某部电影的评论
func (s *ReviewService) ListByMovie(ctx context.Context, movieID string) ([]model.Review, error) {
	movie, err := s.movies.FindByID(ctx, movieID)
	if err != nil {
		return nil, fmt.Errorf("查询电影失败: %w", err)
	}
	if movie == nil {
		return nil, ErrMovieNotFound
	}
	reviews, err := s.reviews.ListByMovie(ctx, movieID)
	if err != nil {
		return nil, fmt.Errorf("获取评论失败: %w", err)
	}
	return reviews, nil
}

// ListByUser 某用户的评论，普通用户只能查看自己的
func (s *ReviewService) ListByUser(ctx context.Context, actor model.Viewer, userID string) ([]model.Review, error) {
	if actor.Role != model.RoleAdmin && actor.UserID != userID {
		return nil, &Error{Kind: ErrForbidden, Msg: "只能查看自己的评论"}
	}
	reviews, err := s.reviews.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取评论失败: %w", err)
	}
	return reviews, nil
}

// UpdateReviewInput 修改评论参数
type UpdateReviewInput struct {
	Actor    model.Viewer
	ReviewID string
	Rating   int
	Comment  string
}

// Update 修改评论，作者本人或管理员可操作
func (s *ReviewService) Update(ctx context.Context, in UpdateReviewInput) (*ReviewOutput, error) {
	comment, err := validateReview(in.Rating, in.Comment)
	if err != nil {
		return nil, err
	}

	review, err := s.Get(ctx, in.ReviewID)
	if err != nil {
		return nil, err
	}
	if in.Actor.Role != model.RoleAdmin && review.UserID != in.Actor.UserID {
		return nil, ErrNotReviewOwner
	}

	if err := s.reviews.UpdateContent(ctx, review.ID, in.Rating, comment); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("更新评论失败: %w", err)
	}
	ratingChanged := review.Rating != in.Rating
	review.Rating = in.Rating
	review.Comment = comment
	review.UpdatedAt = s.now()

	out := &ReviewOutput{Review: review}
	if ratingChanged {
		out.Effects = append(out.Effects, s.rating.RecomputeAfter(ctx, s.effects, review.MovieID))
	}
	return out, nil
}

// DeleteReviewOutput 删除评论的结果
type DeleteReviewOutput struct {
	ReviewID string  `json:"review_id"`
	MovieID  string  `json:"movie_id"`
	Effects  Effects `json:"effects,omitempty"`
}

// Delete 删除评论，管理员删除他人评论时通知作者
func (s *ReviewService) Delete(ctx context.Context, actor *model.User, reviewID string) (*DeleteReviewOutput, error) {
	review, err := s.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	isOwner := review.UserID == actor.ID
	if !isOwner && !actor.IsAdmin() {
		return nil, &Error{Kind: ErrForbidden, Msg: "只能删除自己的评论"}
	}

	if err := s.reviews.Delete(ctx, review.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("删除评论失败: %w", err)
	}

	out := &DeleteReviewOutput{ReviewID: review.ID, MovieID: review.MovieID}
	out.Effects = append(out.Effects, s.rating.RecomputeAfter(ctx, s.effects, review.MovieID))

	if !isOwner {
		title := ""
		if review.Movie != nil {
			title = review.Movie.Title
		}
		out.Effects = append(out.Effects, s.events.Notify(ctx, s.effects, CreateEventInput{
			Type:         model.EventReviewDeleted,
			Title:        "评论已被删除",
			Message:      fmt.Sprintf("你对《%s》的评论已被管理员 %s 删除", title, actor.Username),
			Severity:     model.SeverityWarning,
			TargetUserID: review.UserID,
			RelatedEntity: &model.RelatedEntity{
				Type:  model.EntityMovie,
				ID:    review.MovieID,
				Title: title,
			},
			ActionURL:   "/movie/" + review.MovieID,
			CreatedByID: actor.ID,
		}))
	}

	s.logger.Info().Str("review_id", review.ID).Str("movie_id", review.MovieID).Str("by", actor.ID).Msg("评论已删除")
	return out, nil
}

// ReviewStats 评论统计
type ReviewStats struct {
	TotalReviews   int64                `json:"total_reviews"`
	AverageRating  float64              `json:"average_rating"`
	MonthlyReviews []model.MonthlyCount `json:"monthly_reviews"`
}

// Stats 评论总数、整体平均分以及近一年每月评论数
func (s *ReviewService) Stats(ctx context.Context) (*ReviewStats, error) {
	sum, err := s.reviews.SumRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计评分失败: %w", err)
	}
	times, err := s.reviews.CreatedSince(ctx, s.now().AddDate(-1, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("统计评论失败: %w", err)
	}

	stats := &ReviewStats{
		TotalReviews:   sum.Count,
		AverageRating:  model.AverageOf(sum.Sum, sum.Count),
		MonthlyReviews: model.CountByMonth(times),
	}
	if stats.MonthlyReviews == nil {
		stats.MonthlyReviews = []model.MonthlyCount{}
	}
	return stats, nil
}
