package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/user/moovie-reviews/internal/model"
	"github.com/user/moovie-reviews/internal/utils"
)

// RefreshTokenHeader 滑动续期时返回新令牌的响应头
const RefreshTokenHeader = "X-Refresh-Token"

const ctxUserKey = "user"

// Claims JWT 声明
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager 签发和校验 JWT
type TokenManager struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenManager 创建令牌管理器
func NewTokenManager(secret string, expiry time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Generate 生成 JWT Token
func (m *TokenManager) Generate(userID, role string) (string, error) {
	now := m.now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Parse 校验并解析令牌
func (m *TokenManager) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// shouldRefresh 判断是否需要刷新 Token
// 逻辑：如果已经消耗了总有效期的 50% 以上，则建议刷新
func (m *TokenManager) shouldRefresh(claims *Claims) bool {
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return false
	}
	total := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	elapsed := m.now().Sub(claims.IssuedAt.Time)
	return elapsed > total/2
}

// UserLoader 每次请求重新加载用户，保证角色和停用状态是最新的
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAuth 必须登录中间件
func RequireAuth(tokens *TokenManager, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			utils.Unauthorized(c, "未登录")
			c.Abort()
			return
		}
		claims, err := tokens.Parse(tokenString)
		if err != nil {
			msg := "登录凭证无效"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "登录已过期，请重新登录"
			}
			utils.Unauthorized(c, msg)
			c.Abort()
			return
		}

		user, err := users.FindByID(c.Request.Context(), claims.UserID)
		if err != nil {
			log.Error().Err(err).Str("user_id", claims.UserID).Msg("加载登录用户失败")
			utils.InternalServerError(c, "")
			c.Abort()
			return
		}
		if user == nil {
			utils.Unauthorized(c, "用户不存在")
			c.Abort()
			return
		}
		if user.IsDeactivated {
			utils.Unauthorized(c, "账号已被停用")
			c.Abort()
			return
		}

		c.Set(ctxUserKey, user)
		c.Set("user_id", user.ID)
		c.Set("role", user.Role)

		// 滑动续期逻辑：如果 Token 过期时间消耗超过一半，则刷新
		if tokens.shouldRefresh(claims) {
			if fresh, err := tokens.Generate(user.ID, user.Role); err == nil {
				c.Header(RefreshTokenHeader, fresh)
			}
		}

		c.Next()
	}
}

// RequireAdmin 管理员权限中间件，需在 RequireAuth 之后使用
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentUser(c).IsAdmin() {
			utils.Forbidden(c, "需要管理员权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

// bearerToken 从 Authorization Header 提取令牌
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// CurrentUser 从上下文获取当前用户（未登录返回 nil）
func CurrentUser(c *gin.Context) *model.User {
	if v, ok := c.Get(ctxUserKey); ok {
		if user, ok := v.(*model.User); ok {
			return user
		}
	}
	return nil
}

// CurrentViewer 当前用户的事件可见性身份
func CurrentViewer(c *gin.Context) model.Viewer {
	if user := CurrentUser(c); user != nil {
		return user.Viewer()
	}
	return model.Viewer{}
}
