// Package platform 是外部通信平台（视频通话、聊天、字幕、用户注册）的适配层。
//
// 平台兼容 Stream 的 REST + WebSocket 接口。服务端操作（用户注册、凭证签名）
// 经由 stream-chat-go 服务端 SDK；以用户身份入会、开关媒体、订阅事件流的部分
// 由本包直接实现。服务层只依赖本包导出的接口，测试可以用假实现替换。
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	stream "github.com/GetStream/stream-chat-go/v5"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
)

// Config 平台连接配置
type Config struct {
	APIKey       string
	APISecret    string
	VideoBaseURL string
	VideoWSURL   string
	ChatBaseURL  string
	ChatWSURL    string
	Timeout      time.Duration
}

// UserRequest 注册用户时提交的字段
type UserRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// UserRegistry registers identities with the platform.
type UserRegistry interface {
	UpsertUsers(ctx context.Context, users ...UserRequest) error
}

// Client 服务端作用域的平台客户端，使用 API secret 签名。
type Client struct {
	cfg    Config
	http   *http.Client
	stream StreamOptions

	// server 服务端 SDK 客户端，凭证缺失时为 nil
	server    *stream.Client
	serverErr error
}

// New 创建平台客户端。httpClient 为空时使用带超时的默认客户端。
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	c := &Client{
		cfg:    cfg,
		http:   httpClient,
		stream: DefaultStreamOptions(),
	}

	key, secret, err := c.resolveCredentials()
	if err != nil {
		c.serverErr = err
		return c
	}
	server, err := stream.NewClient(key, secret)
	if err != nil {
		c.serverErr = fmt.Errorf("init server client: %w", err)
		return c
	}
	if cfg.ChatBaseURL != "" {
		server.BaseURL = cfg.ChatBaseURL
	}
	server.HTTP = httpClient
	c.server = server
	return c
}

// serverClient 返回服务端 SDK 客户端，未配置凭证时返回 ErrMissingCredentials。
func (c *Client) serverClient() (*stream.Client, error) {
	if c.server == nil {
		return nil, c.serverErr
	}
	return c.server, nil
}

// WithStreamOptions overrides the event stream timings. Used by tests.
func (c *Client) WithStreamOptions(opts StreamOptions) *Client {
	c.stream = opts
	return c
}

// APIKey 返回服务端 API key。
func (c *Client) APIKey() string { return c.cfg.APIKey }

// UpsertUsers 注册或更新用户。每次调用都会写入，平台侧不去重。
func (c *Client) UpsertUsers(ctx context.Context, users ...UserRequest) error {
	if len(users) == 0 {
		return nil
	}
	server, err := c.serverClient()
	if err != nil {
		return err
	}

	payload := make([]*stream.User, 0, len(users))
	for _, u := range users {
		payload = append(payload, &stream.User{ID: u.ID, Name: u.Name, Role: u.Role})
	}
	if _, err := server.UpsertUsers(ctx, payload...); err != nil {
		return apperr.Network("upsert users", err)
	}
	return nil
}

// APIError 平台返回的非 2xx 响应
type APIError struct {
	StatusCode int    `json:"StatusCode"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform: status %d", e.StatusCode)
	}
	return fmt.Sprintf("platform: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a platform "does not exist" response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound ||
		strings.Contains(strings.ToLower(apiErr.Message), "not found") ||
		strings.Contains(strings.ToLower(apiErr.Message), "does not exist")
}

// IsAlreadyExists reports whether err is a duplicate-create response.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusConflict ||
		strings.Contains(strings.ToLower(apiErr.Message), "already exists")
}

// do 发送一次 REST 请求。body 非空时编码为 JSON，out 非空时解码响应。
func (c *Client) do(ctx context.Context, method, endpoint, token string, query url.Values, body, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return apperr.Internal("invalid platform url", err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("api_key", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, u.Path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Stream-Auth-Type", "jwt")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Network("platform request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Network("read platform response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, u.Path, err)
	}
	return nil
}

// identityPayload 连接事件流时携带的用户信息
func identityPayload(identity meeting.Identity) map[string]string {
	return map[string]string{"id": identity.ID, "name": identity.DisplayName}
}
