package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/TehShadow/Rusty/internal/auth"
	"github.com/TehShadow/Rusty/internal/metrics"
	"github.com/TehShadow/Rusty/internal/models"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// AuthService 负责注册、登录与两层校验（token 签名 + 会话记录）。
type AuthService struct {
	db         *gorm.DB
	sessions   auth.SessionStore
	tokens     *auth.TokenIssuer
	hasher     *auth.Hasher
	sessionTTL time.Duration
	now        func() time.Time
}

func NewAuthService(db *gorm.DB, sessions auth.SessionStore, tokens *auth.TokenIssuer, hasher *auth.Hasher, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		db:         db,
		sessions:   sessions,
		tokens:     tokens,
		hasher:     hasher,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// UserDTO 是对外输出的用户数据。
type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	SessionID string    `json:"-"`
	User      UserDTO   `json:"user"`
}

// TokenResult 是刷新后的 token。
type TokenResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Register 注册新用户。用户名重复返回 ErrUsernameTaken。
func (s *AuthService) Register(ctx context.Context, username, password string) (*UserDTO, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrValidation
	}
	taken, err := s.usernameExists(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: username, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// 并发注册同名用户时由唯一索引兜底
		if taken, _ := s.usernameExists(ctx, username); taken {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return &UserDTO{ID: user.ID, Username: user.Username}, nil
}

func (s *AuthService) usernameExists(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error
	return count > 0, err
}

// Login 校验用户名密码，创建会话并签发绑定该会话的 token。
// 用户不存在与密码错误返回同一个错误，耗时也保持一致。
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.hasher.VerifyDummy(ctx, password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := s.hasher.Verify(ctx, user.PasswordHash, password)
	if err != nil {
		if errors.Is(err, auth.ErrMalformedHash) {
			log.Error().Str("user", user.ID).Msg("stored password hash is malformed")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(ctx, user.ID, s.sessionTTL)
	if err != nil {
		return nil, err
	}
	token, exp, err := s.tokens.Issue(user.ID, sess.ID, user.Username, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		ExpiresAt: exp,
		SessionID: sess.ID,
		User:      UserDTO{ID: user.ID, Username: user.Username},
	}, nil
}

// Validate 是其他组件获知调用者身份的唯一入口。
// token 签名有效但会话已删除、过期或不属于该用户时同样失败。
func (s *AuthService) Validate(ctx context.Context, token string) (*auth.CurrentUser, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if !errors.Is(err, auth.ErrSessionNotFound) {
			log.Warn().Err(err).Str("session", claims.SessionID).Msg("session lookup failed")
		}
		return nil, ErrUnauthorized
	}
	if sess.UserID != claims.Subject || sess.Expired(s.now()) {
		return nil, ErrUnauthorized
	}
	return &auth.CurrentUser{ID: claims.Subject, Username: claims.Username, SessionID: sess.ID}, nil
}

// Logout 删除会话，由它派生的全部 token 随之失效。
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// Refresh 为仍然有效的会话签发新 token，token 过期时间不超过会话过期时间。
func (s *AuthService) Refresh(ctx context.Context, user auth.CurrentUser) (*TokenResult, error) {
	sess, err := s.sessions.Get(ctx, user.SessionID)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if sess.UserID != user.ID || sess.Expired(s.now()) {
		return nil, ErrUnauthorized
	}
	token, exp, err := s.tokens.Issue(user.ID, sess.ID, user.Username, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &TokenResult{Token: token, ExpiresAt: exp}, nil
}

// PurgeExpiredSessions 清理已过期的会话记录。
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	metrics.SessionsPurged.Add(float64(n))
	return n, nil
}

// GetUser 按 ID 查询用户。
func (s *AuthService) GetUser(ctx context.Context, id string) (*UserDTO, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "username").Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &UserDTO{ID: user.ID, Username: user.Username}, nil
}
