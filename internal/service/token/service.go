// Package token 签发访客凭证：派生身份、在平台注册并签名。
package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/platform"
)

const (
	// ClockSkew 签发时间回拨，容忍客户端时钟偏差
	ClockSkew = 60 * time.Second
	// Validity 凭证有效期
	Validity = 86400 * time.Second

	roleAdmin = "admin"
)

var (
	ErrNameRequired = apperr.Validation("Name is required")
)

// Issuer is the platform surface the service needs.
type Issuer interface {
	platform.UserRegistry
	CreateToken(userID string, issuedAt, expiresAt time.Time) (string, error)
}

// Service 凭证签发服务
type Service struct {
	issuer Issuer
	apiKey string
	now    func() time.Time
}

// NewService 创建签发服务。apiKey 是返回给客户端的公开 key。
func NewService(issuer Issuer, apiKey string) *Service {
	return &Service{issuer: issuer, apiKey: apiKey, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue 为显示名签发凭证。每次调用都会在平台上注册一个新用户。
func (s *Service) Issue(ctx context.Context, name string) (meeting.TokenGrant, error) {
	display := strings.TrimSpace(name)
	if display == "" {
		return meeting.TokenGrant{}, ErrNameRequired
	}
	if s.issuer == nil {
		return meeting.TokenGrant{}, apperr.Internal("Failed to generate token", fmt.Errorf("platform client not configured"))
	}

	now := s.now()
	userID := UserID(display, now)

	err := s.issuer.UpsertUsers(ctx, platform.UserRequest{ID: userID, Name: display, Role: roleAdmin})
	if err != nil {
		log.Error().Str("module", "token").Str("user_id", userID).Err(err).Msg("register user failed")
		return meeting.TokenGrant{}, apperr.Internal("Failed to generate token", err)
	}

	issuedAt, expiresAt := Window(now)
	signed, err := s.issuer.CreateToken(userID, issuedAt, expiresAt)
	if err != nil {
		log.Error().Str("module", "token").Str("user_id", userID).Err(err).Msg("sign token failed")
		return meeting.TokenGrant{}, apperr.Internal("Failed to generate token", err)
	}

	log.Info().Str("module", "token").Str("user_id", userID).Msg("token issued")

	return meeting.TokenGrant{
		Token:  signed,
		UserID: userID,
		Name:   display,
		APIKey: s.apiKey,
		Credential: meeting.Credential{
			Token:     signed,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	}, nil
}

// UserID 由显示名派生用户 ID：小写、空白折叠为 "-"，再拼接毫秒时间戳。
func UserID(display string, now time.Time) string {
	slug := strings.Join(strings.Fields(strings.ToLower(display)), "-")
	return fmt.Sprintf("%s-%d", slug, now.UnixMilli())
}

// Window returns the credential validity window for an issuance at now.
func Window(now time.Time) (issuedAt, expiresAt time.Time) {
	return now.Add(-ClockSkew), now.Add(Validity)
}
