// Package chathub 管理进程内共享的聊天连接。
//
// 同一 (api key, 用户) 只建立一个连接：首个 Acquire 负责连接，之后的调用者
// 共享它；最后一个 Release 断开连接，且只断开一次。
package chathub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/platform"
)

var ErrNotAcquired = errors.New("chat connection not acquired")

// Connector dials a chat connection for an identity.
type Connector interface {
	ConnectChat(ctx context.Context, identity meeting.Identity, token string) (platform.ChatClient, error)
}

// Gauge receives connection count deltas.
type Gauge func(ctx context.Context, delta int64)

type key struct {
	apiKey string
	userID string
}

type entry struct {
	ready  chan struct{}
	client platform.ChatClient
	err    error
	refs   int
}

// Hub 引用计数的聊天连接表
type Hub struct {
	connector Connector
	apiKey    string
	gauge     Gauge

	mu      sync.Mutex
	entries map[key]*entry
}

// New 创建连接表。gauge 可以为 nil。
func New(connector Connector, apiKey string, gauge Gauge) *Hub {
	return &Hub{
		connector: connector,
		apiKey:    apiKey,
		gauge:     gauge,
		entries:   make(map[key]*entry),
	}
}

// Acquire 返回该身份的共享连接，必要时建立连接。并发的首次调用只拨号一次，
// 已连接视为成功。
func (h *Hub) Acquire(ctx context.Context, identity meeting.Identity, token string) (platform.ChatClient, error) {
	k := key{apiKey: h.apiKey, userID: identity.ID}

	h.mu.Lock()
	if e, ok := h.entries[k]; ok {
		e.refs++
		h.mu.Unlock()

		<-e.ready
		if e.err != nil {
			h.drop(k, e)
			return nil, e.err
		}
		return e.client, nil
	}

	e := &entry{ready: make(chan struct{}), refs: 1}
	h.entries[k] = e
	h.mu.Unlock()

	e.client, e.err = h.connector.ConnectChat(ctx, identity, token)
	close(e.ready)

	if e.err != nil {
		log.Error().Str("module", "chathub").Str("user_id", identity.ID).Err(e.err).Msg("chat connect failed")
		h.drop(k, e)
		return nil, e.err
	}

	log.Info().Str("module", "chathub").Str("user_id", identity.ID).Msg("chat connected")
	if h.gauge != nil {
		h.gauge(ctx, 1)
	}
	return e.client, nil
}

// drop 释放失败连接上的引用，最后一个引用移除表项。
func (h *Hub) drop(k key, e *entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e.refs--
	if e.refs == 0 && h.entries[k] == e {
		delete(h.entries, k)
	}
}

// Release 释放一个引用。最后一个引用释放时断开连接。
func (h *Hub) Release(ctx context.Context, userID string) error {
	k := key{apiKey: h.apiKey, userID: userID}

	h.mu.Lock()
	e, ok := h.entries[k]
	if !ok {
		h.mu.Unlock()
		return ErrNotAcquired
	}
	e.refs--
	if e.refs > 0 {
		h.mu.Unlock()
		return nil
	}
	delete(h.entries, k)
	h.mu.Unlock()

	// 拨号可能仍在进行
	<-e.ready
	if e.err != nil || e.client == nil {
		return ErrNotAcquired
	}

	if h.gauge != nil {
		h.gauge(ctx, -1)
	}
	err := e.client.Disconnect()
	if err != nil {
		log.Warn().Str("module", "chathub").Str("user_id", userID).Err(err).Msg("chat disconnect failed")
	} else {
		log.Info().Str("module", "chathub").Str("user_id", userID).Msg("chat disconnected")
	}
	return err
}

// Refs 返回当前引用数，未连接时为 0。
func (h *Hub) Refs(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[key{apiKey: h.apiKey, userID: userID}]; ok {
		return e.refs
	}
	return 0
}
