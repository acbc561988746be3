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

// MovieService 电影目录
type MovieService struct {
	movies  MovieStore
	rating  *RatingAggregator
	events  *EventService
	posters PosterLookup
	effects *SideEffects
	logger  zerolog.Logger
	now     func() time.Time
}

// NewMovieService 创建电影服务，posters 可以为 nil
func NewMovieService(movies MovieStore, rating *RatingAggregator, events *EventService, posters PosterLookup, effects *SideEffects, logger zerolog.Logger) *MovieService {
	return &MovieService{
		movies:  movies,
		rating:  rating,
		events:  events,
		posters: posters,
		effects: effects,
		logger:  logger.With().Str("service", "movie").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// MovieInput 创建或修改电影的字段
type MovieInput struct {
	Title       string
	Director    string
	ReleaseYear int
	Genre       string
	PosterURL   *string
	Description *string
}

func (s *MovieService) validate(in *MovieInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Director = strings.TrimSpace(in.Director)
	if in.Title == "" {
		return invalid("title", "标题不能为空")
	}
	if utf8.RuneCountInString(in.Title) > model.MaxTitleLength {
		return invalid("title", "标题不能超过 %d 个字符", model.MaxTitleLength)
	}
	if in.Director == "" {
		return invalid("director", "导演不能为空")
	}
	if utf8.RuneCountInString(in.Director) > model.MaxDirectorLength {
		return invalid("director", "导演不能超过 %d 个字符", model.MaxDirectorLength)
	}
	if maxYear := s.now().Year(); in.ReleaseYear < model.MinReleaseYear || in.ReleaseYear > maxYear {
		return invalid("release_year", "上映年份必须在 %d 到 %d 之间", model.MinReleaseYear, maxYear)
	}
	if !model.IsValidGenre(in.Genre) {
		return invalid("genre", "不支持的电影类型 %q", in.Genre)
	}
	if in.Description != nil && utf8.RuneCountInString(*in.Description) > model.MaxDescriptionLength {
		return invalid("description", "简介不能超过 %d 个字符", model.MaxDescriptionLength)
	}
	return nil
}

func (s *MovieService) checkDuplicate(ctx context.Context, in MovieInput, excludeID string) error {
	dup, err := s.movies.FindDuplicate(ctx, in.Title, in.Director, in.ReleaseYear, excludeID)
	if err != nil {
		return fmt.Errorf("检查重复电影失败: %w", err)
	}
	if dup != nil {
		return ErrDuplicateMovie
	}
	return nil
}

// MovieOutput 电影写操作的结果
type MovieOutput struct {
	Movie   *model.Movie `json:"movie"`
	Effects Effects      `json:"effects,omitempty"`
}

// Create 管理员添加电影，未提供海报时尝试从 TMDB 查找
func (s *MovieService) Create(ctx context.Context, actor model.Viewer, in MovieInput) (*MovieOutput, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, in, ""); err != nil {
		return nil, err
	}

	movie := &model.Movie{
		Title:       in.Title,
		Director:    in.Director,
		ReleaseYear: in.ReleaseYear,
		Genre:       in.Genre,
		PosterURL:   in.PosterURL,
		Description: in.Description,
	}
	if (movie.PosterURL == nil || *movie.PosterURL == "") && s.posters != nil {
		if poster := s.posters.Lookup(ctx, movie.Title, movie.ReleaseYear); poster != "" {
			movie.PosterURL = &poster
		}
	}

	if err := s.movies.Create(ctx, movie); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateMovie
		}
		return nil, fmt.Errorf("创建电影失败: %w", err)
	}

	out := &MovieOutput{Movie: movie}
	out.Effects = append(out.Effects, s.events.Notify(ctx, s.effects, CreateEventInput{
		Type:       model.EventMovieAdded,
		Title:      "新电影上线",
		Message:    fmt.Sprintf("《%s》(%d) 已加入片库", movie.Title, movie.ReleaseYear),
		Severity:   model.SeveritySuccess,
		TargetRole: model.TargetAll,
		RelatedEntity: &model.RelatedEntity{
			Type:  model.EntityMovie,
			ID:    movie.ID,
			Title: movie.Title,
		},
		ActionURL:   "/movie/" + movie.ID,
		CreatedByID: actor.UserID,
	}))

	s.logger.Info().Str("movie_id", movie.ID).Str("title", movie.Title).Msg("电影已创建")
	return out, nil
}

// List 全部电影，最新在前
func (s *MovieService) List(ctx context.Context) ([]model.Movie, error) {
	movies, err := s.movies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取电影失败: %w", err)
	}
	if movies == nil {
		movies = []model.Movie{}
	}
	return movies, nil
}

// Get 获取单部电影
func (s *MovieService) Get(ctx context.Context, id string) (*model.Movie, error) {
	movie, err := s.movies.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("查询电影失败: %w", err)
	}
	if movie == nil {
		return nil, ErrMovieNotFound
	}
	return movie, nil
}

// ListWithRatings 全部电影，评分直接从评论表实时计算，不读缓存字段
func (s *MovieService) ListWithRatings(ctx context.Context) ([]model.Movie, error) {
	movies, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	live, err := s.movies.LiveRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("计算实时评分失败: %w", err)
	}
	for i := range movies {
		r := live[movies[i].ID]
		movies[i].AverageRating = model.AverageOf(r.Sum, r.Count)
		movies[i].TotalReviews = r.Count
	}
	return movies, nil
}

// Update 管理员修改电影信息，评分缓存字段不可修改
func (s *MovieService) Update(ctx context.Context, actor model.Viewer, id string, in MovieInput) (*model.Movie, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	movie, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkDuplicate(ctx, in, id); err != nil {
		return nil, err
	}

	movie.Title = in.Title
	movie.Director = in.Director
	movie.ReleaseYear = in.ReleaseYear
	movie.Genre = in.Genre
	movie.PosterURL = in.PosterURL
	movie.Description = in.Description
	if err := s.movies.Update(ctx, movie); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrMovieNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrDuplicateMovie
		}
		return nil, fmt.Errorf("更新电影失败: %w", err)
	}
	s.logger.Info().Str("movie_id", movie.ID).Msg("电影已更新")
	return movie, nil
}

// DeleteMovieOutput 删除电影的结果
type DeleteMovieOutput struct {
	MovieID string  `json:"movie_id"`
	Effects Effects `json:"effects,omitempty"`
}

// Delete 管理员删除电影，评论随之删除
func (s *MovieService) Delete(ctx context.Context, actor model.Viewer, id string) (*DeleteMovieOutput, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	movie, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.movies.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMovieNotFound
		}
		return nil, fmt.Errorf("删除电影失败: %w", err)
	}

	out := &DeleteMovieOutput{MovieID: id}
	out.Effects = append(out.Effects, s.events.Notify(ctx, s.effects, CreateEventInput{
		Type:       model.EventMovieDeleted,
		Title:      "电影已下架",
		Message:    fmt.Sprintf("《%s》(%d) 已从片库移除", movie.Title, movie.ReleaseYear),
		Severity:   model.SeverityWarning,
		TargetRole: model.TargetAll,
		RelatedEntity: &model.RelatedEntity{
			Type:  model.EntityMovie,
			ID:    movie.ID,
			Title: movie.Title,
		},
		CreatedByID: actor.UserID,
	}))

	s.logger.Info().Str("movie_id", id).Str("admin_id", actor.UserID).Msg("电影已删除")
	return out, nil
}

// Recompute 管理员手动重算单部电影的评分
func (s *MovieService) Recompute(ctx context.Context, actor model.Viewer, id string) (model.RatingSummary, error) {
	if actor.Role != model.RoleAdmin {
		return model.RatingSummary{}, ErrAdminOnly
	}
	return s.rating.Recompute(ctx, id)
}
