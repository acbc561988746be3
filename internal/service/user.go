package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/repository"
)

// 账号字段约束
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MinPasswordLength = 6

	defaultUserPageSize = 20
	topReviewerCount    = 5
)

var validate = validator.New()

func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return "", invalid("username", "用户名长度必须在 %d 到 %d 之间", MinUsernameLength, MaxUsernameLength)
	}
	return username, nil
}

func validateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", invalid("email", "邮箱格式不正确")
	}
	return email, nil
}

// UserService 用户资料与账号管理
type UserService struct {
	users   UserStore
	reviews ReviewStore
	rating  *RatingAggregator
	events  *EventService
	effects *SideEffects
	logger  zerolog.Logger
	now     func() time.Time
}

// NewUserService 创建用户服务
func NewUserService(users UserStore, reviews ReviewStore, rating *RatingAggregator, events *EventService, effects *SideEffects, logger zerolog.Logger) *UserService {
	return &UserService{
		users:   users,
		reviews: reviews,
		rating:  rating,
		events:  events,
		effects: effects,
		logger:  logger.With().Str("service", "user").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) find(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Profile 个人资料
type Profile struct {
	User        *model.User `json:"user"`
	ReviewCount int64       `json:"review_count"`
}

// Profile 获取个人资料
func (s *UserService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := s.reviews.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("统计评论失败: %w", err)
	}
	return &Profile{User: user, ReviewCount: count}, nil
}

// UpdateProfileInput 修改资料参数，空字段保持不变
type UpdateProfileInput struct {
	Username string
	Email    string
}

// UpdateProfile 修改用户名或邮箱，需与其他用户不重复
func (s *UserService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*model.User, error) {
	user, err := s.find(ctx, userID)
	if err != nil {
		return nil, err
	}

	username, email := user.Username, user.Email
	if strings.TrimSpace(in.Username) != "" {
		if username, err = validateUsername(in.Username); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(in.Email) != "" {
		if email, err = validateEmail(in.Email); err != nil {
			return nil, err
		}
	}

	if username != user.Username {
		other, err := s.users.FindByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("查询用户失败: %w", err)
		}
		if other != nil && other.ID != user.ID {
			return nil, &Error{Kind: ErrConflict, Msg: "用户名已被使用"}
		}
	}
	if email != user.Email {
		other, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("查询用户失败: %w", err)
		}
		if other != nil && other.ID != user.ID {
			return nil, &Error{Kind: ErrConflict, Msg: "邮箱已被使用"}
		}
	}

	if err := s.users.UpdateProfile(ctx, user.ID, username, email); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrDuplicateUser
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("更新资料失败: %w", err)
	}
	user.Username = username
	user.Email = email
	return user, nil
}

// ListUsersOutput 用户分页列表
type ListUsersOutput struct {
	Users      []model.User `json:"users"`
	Pagination Pagination   `json:"pagination"`
}

// List 管理员查看用户列表
func (s *UserService) List(ctx context.Context, actor model.Viewer, page, limit int) (*ListUsersOutput, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	page, limit, offset := normalizePage(page, limit, defaultUserPageSize)
	users, total, err := s.users.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("获取用户失败: %w", err)
	}
	if users == nil {
		users = []model.User{}
	}
	return &ListUsersOutput{Users: users, Pagination: newPagination(page, limit, total)}, nil
}

// Get 查看用户，本人或管理员
func (s *UserService) Get(ctx context.Context, actor model.Viewer, id string) (*model.User, error) {
	if actor.Role != model.RoleAdmin && actor.UserID != id {
		return nil, &Error{Kind: ErrForbidden, Msg: "只能查看自己的资料"}
	}
	return s.find(ctx, id)
}

// ChangeRole 管理员修改用户角色，不能修改自己的角色
func (s *UserService) ChangeRole(ctx context.Context, actor model.Viewer, id, role string) (*model.User, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	if !model.IsValidRole(role) {
		return nil, invalid("role", "不支持的角色 %q", role)
	}
	if actor.UserID == id {
		return nil, invalid("role", "不能修改自己的角色")
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("修改角色失败: %w", err)
	}
	user.Role = role
	s.logger.Info().Str("user_id", id).Str("role", role).Str("admin_id", actor.UserID).Msg("用户角色已修改")
	return user, nil
}

// SetStatus 管理员启用或停用账号，不能停用自己
func (s *UserService) SetStatus(ctx context.Context, actor model.Viewer, id string, deactivated bool) (*model.User, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	if actor.UserID == id && deactivated {
		return nil, invalid("is_deactivated", "不能停用自己的账号")
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetDeactivated(ctx, id, deactivated); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("修改账号状态失败: %w", err)
	}
	user.IsDeactivated = deactivated
	s.logger.Info().Str("user_id", id).Bool("deactivated", deactivated).Str("admin_id", actor.UserID).Msg("账号状态已修改")
	return user, nil
}

// DeleteUserOutput 删除用户的结果
type DeleteUserOutput struct {
	UserID         string   `json:"user_id"`
	AffectedMovies []string `json:"affected_movies"`
	Effects        Effects  `json:"effects,omitempty"`
}

// Delete 管理员删除用户及其评论，受影响电影的评分逐个重算
func (s *UserService) Delete(ctx context.Context, actor model.Viewer, id string) (*DeleteUserOutput, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	if actor.UserID == id {
		return nil, invalid("id", "不能删除自己的账号")
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	movieIDs, err := s.users.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("删除用户失败: %w", err)
	}
	if movieIDs == nil {
		movieIDs = []string{}
	}

	out := &DeleteUserOutput{UserID: id, AffectedMovies: movieIDs}
	for _, movieID := range movieIDs {
		out.Effects = append(out.Effects, s.rating.RecomputeAfter(ctx, s.effects, movieID))
	}
	out.Effects = append(out.Effects, s.events.Notify(ctx, s.effects, CreateEventInput{
		Type:       model.EventUserDeleted,
		Title:      "用户已删除",
		Message:    fmt.Sprintf("用户 %s (%s) 已被删除，共影响 %d 部电影的评分", user.Username, user.Email, len(movieIDs)),
		Severity:   model.SeverityWarning,
		TargetRole: model.TargetAdmin,
		RelatedEntity: &model.RelatedEntity{
			Type:  model.EntityUser,
			ID:    user.ID,
			Title: user.Username,
		},
		CreatedByID: actor.UserID,
	}))

	s.logger.Info().Str("user_id", id).Int("movies", len(movieIDs)).Str("admin_id", actor.UserID).Msg("用户已删除")
	return out, nil
}

// UserStats 用户统计
type UserStats struct {
	TotalUsers          int64                     `json:"total_users"`
	ByRole              []repository.RoleCount    `json:"by_role"`
	NewLast30Days       int                       `json:"new_last_30_days"`
	MonthlyRegistration []model.MonthlyCount      `json:"monthly_registrations"`
	TopReviewers        []repository.ReviewerStat `json:"top_reviewers"`
}

// Stats 管理员查看用户统计
func (s *UserService) Stats(ctx context.Context, actor model.Viewer) (*UserStats, error) {
	if actor.Role != model.RoleAdmin {
		return nil, ErrAdminOnly
	}
	now := s.now()

	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计用户失败: %w", err)
	}
	byRole, err := s.users.CountByRole(ctx)
	if err != nil {
		return nil, fmt.Errorf("按角色统计失败: %w", err)
	}
	times, err := s.users.CreatedSince(ctx, now.AddDate(-1, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("统计注册时间失败: %w", err)
	}
	top, err := s.users.TopReviewers(ctx, topReviewerCount)
	if err != nil {
		return nil, fmt.Errorf("统计评论排行失败: %w", err)
	}

	cutoff := now.AddDate(0, 0, -30)
	recent := 0
	for _, t := range times {
		if !t.Before(cutoff) {
			recent++
		}
	}

	stats := &UserStats{
		TotalUsers:          total,
		ByRole:              byRole,
		NewLast30Days:       recent,
		MonthlyRegistration: model.CountByMonth(times),
		TopReviewers:        top,
	}
	if stats.ByRole == nil {
		stats.ByRole = []repository.RoleCount{}
	}
	if stats.MonthlyRegistration == nil {
		stats.MonthlyRegistration = []model.MonthlyCount{}
	}
	if stats.TopReviewers == nil {
		stats.TopReviewers = []repository.ReviewerStat{}
	}
	return stats, nil
}
