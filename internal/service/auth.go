package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/user/moovie-reviews/internal/config"
	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/repository"
)

// TokenIssuer 为用户签发登录令牌
type TokenIssuer interface {
	Generate(userID, role string) (string, error)
}

// AuthService 注册与登录
type AuthService struct {
	users   UserStore
	tokens  TokenIssuer
	events  *EventService
	effects *SideEffects
	logger  zerolog.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(users UserStore, tokens TokenIssuer, events *EventService, effects *SideEffects, logger zerolog.Logger) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		events:  events,
		effects: effects,
		logger:  logger.With().Str("service", "auth").Logger(),
	}
}

// RegisterInput 注册参数
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// AuthOutput 注册或登录成功后的结果
type AuthOutput struct {
	Token   string      `json:"token"`
	User    *model.User `json:"user"`
	Effects Effects     `json:"effects,omitempty"`
}

// Register 注册新用户，角色固定为 user
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthOutput, error) {
	username, err := validateUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < MinPasswordLength {
		return nil, invalid("password", "密码至少 %d 位", MinPasswordLength)
	}

	if err := s.ensureUnique(ctx, username, email); err != nil {
		return nil, err
	}

	user := &model.User{Username: username, Email: email, Role: model.RoleUser}
	if err := s.users.Create(ctx, user, in.Password); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}

	token, err := s.tokens.Generate(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("生成令牌失败: %w", err)
	}

	out := &AuthOutput{Token: token, User: user}
	out.Effects = append(out.Effects, s.events.Notify(ctx, s.effects, CreateEventInput{
		Type:       model.EventUserRegistered,
		Title:      "新用户注册",
		Message:    fmt.Sprintf("新用户 %s (%s) 已注册", user.Username, user.Email),
		Severity:   model.SeverityInfo,
		TargetRole: model.TargetAdmin,
		RelatedEntity: &model.RelatedEntity{
			Type:  model.EntityUser,
			ID:    user.ID,
			Title: user.Username,
		},
		CreatedByID: user.ID,
	}))

	s.logger.Info().Str("user_id", user.ID).Str("username", user.Username).Msg("用户已注册")
	return out, nil
}

func (s *AuthService) ensureUnique(ctx context.Context, username, email string) error {
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if existing != nil {
		return &Error{Kind: ErrConflict, Msg: "邮箱已被注册"}
	}
	existing, err = s.users.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if existing != nil {
		return &Error{Kind: ErrConflict, Msg: "用户名已被使用"}
	}
	return nil
}

// Login 邮箱密码登录，邮箱不存在与密码错误返回同一个错误
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthOutput, error) {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if user == nil || !s.users.CheckPassword(user, password) {
		return nil, ErrInvalidCredentials
	}
	if user.IsDeactivated {
		return nil, ErrAccountDeactivated
	}

	token, err := s.tokens.Generate(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("生成令牌失败: %w", err)
	}
	return &AuthOutput{Token: token, User: user}, nil
}

// EnsureAdmin 启动时按配置创建管理员账号，邮箱已存在时不做任何修改
func (s *AuthService) EnsureAdmin(ctx context.Context, cfg config.AdminConfig) error {
	email := strings.ToLower(strings.TrimSpace(cfg.Email))
	if email == "" || cfg.Password == "" {
		return nil
	}
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("查询管理员失败: %w", err)
	}
	if existing != nil {
		return nil
	}

	username := cfg.Username
	if username == "" {
		username = "admin"
	}
	user := &model.User{Username: username, Email: email, Role: model.RoleAdmin}
	if err := s.users.Create(ctx, user, cfg.Password); err != nil {
		return fmt.Errorf("创建管理员失败: %w", err)
	}
	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("已创建初始管理员")
	return nil
}
