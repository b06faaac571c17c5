// Package bot 通知外部智能体进程会话已开始，让自动参与者加入房间。
package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	"github.com/zhouzirui/z-meet/backend/internal/observe"
)

const maxLoggedBody = 4 << 10

// Trigger 延迟一次性地调用 start-agent 接口，失败只记录日志。
type Trigger struct {
	backendURL string
	delay      time.Duration
	client     *http.Client
	metrics    *observe.Metrics
}

// NewTrigger 创建触发器。backendURL 为空时触发器不做任何事。
func NewTrigger(backendURL string, delay time.Duration, client *http.Client, metrics *observe.Metrics) *Trigger {
	if client == nil {
		client = &http.Client{}
	}
	return &Trigger{
		backendURL: strings.TrimRight(strings.TrimSpace(backendURL), "/"),
		delay:      delay,
		client:     client,
		metrics:    metrics,
	}
}

// Enabled reports whether a backend URL is configured.
func (t *Trigger) Enabled() bool { return t.backendURL != "" }

// Schedule 在固定延迟后触发一次。返回的 cancel 在触发前调用可取消本次触发，
// 可重复调用。
func (t *Trigger) Schedule(roomID string) (cancel func()) {
	if !t.Enabled() {
		log.Warn().Str("module", "bot").Str("room_id", roomID).Msg("agent backend not configured, bot trigger skipped")
		t.record("skipped")
		return func() {}
	}

	timer := time.AfterFunc(t.delay, func() {
		// 触发请求不随页面卸载取消
		if err := t.Fire(context.Background(), roomID); err != nil {
			log.Error().Str("module", "bot").Str("room_id", roomID).Err(err).Msg("failed to start bot")
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			if timer.Stop() {
				t.record("cancelled")
				log.Debug().Str("module", "bot").Str("room_id", roomID).Msg("bot trigger cancelled")
			}
		})
	}
}

// Fire 发送一次 POST {backend}/start-agent/{roomId}，不带请求体，不重试。
func (t *Trigger) Fire(ctx context.Context, roomID string) error {
	if !t.Enabled() {
		return apperr.Configuration("agent backend not configured")
	}

	endpoint := fmt.Sprintf("%s/start-agent/%s", t.backendURL, url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		t.record("error")
		return fmt.Errorf("build start-agent request: %w", err)
	}

	log.Info().Str("module", "bot").Str("room_id", roomID).Msg("starting meeting bot")

	resp, err := t.client.Do(req)
	if err != nil {
		t.record("error")
		return apperr.Network("start-agent request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.record("error")
		return apperr.Network("start-agent rejected", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	t.record("ok")
	log.Info().Str("module", "bot").Str("room_id", roomID).Str("response", string(body)).Msg("bot started")
	return nil
}

func (t *Trigger) record(status string) {
	if t.metrics != nil {
		t.metrics.RecordBotTrigger(context.Background(), status)
	}
}
