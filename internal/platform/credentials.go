package platform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingCredentials = errors.New("platform api key or secret not configured")

// UserClaims 用户凭证载荷
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// resolveCredentials 返回规范化后的 key 与 secret，缺失时给出明确错误。
func (c *Client) resolveCredentials() (string, string, error) {
	key := strings.TrimSpace(c.cfg.APIKey)
	secret := strings.TrimSpace(c.cfg.APISecret)
	if key == "" || secret == "" {
		return "", "", ErrMissingCredentials
	}
	return key, secret, nil
}

// CreateToken signs a user credential valid over [issuedAt, expiresAt].
func (c *Client) CreateToken(userID string, issuedAt, expiresAt time.Time) (string, error) {
	server, err := c.serverClient()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}

	signed, err := server.CreateToken(userID, expiresAt, issuedAt)
	if err != nil {
		return "", fmt.Errorf("sign user token: %w", err)
	}
	return signed, nil
}

// ParseUserToken verifies a user credential and returns its claims.
func (c *Client) ParseUserToken(token string) (*UserClaims, error) {
	_, secret, err := c.resolveCredentials()
	if err != nil {
		return nil, err
	}
	claims := &UserClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse user token: %w", err)
	}
	return claims, nil
}
