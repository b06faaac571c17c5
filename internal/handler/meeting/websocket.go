package meeting

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	model "github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/observe"
	meetingservice "github.com/zhouzirui/z-meet/backend/internal/service/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/service/session"
	"github.com/zhouzirui/z-meet/backend/internal/service/transcript"
)

const (
	defaultName  = "Guest"
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// 下行帧类型
const (
	FrameConnecting = "connecting"
	FrameJoined     = "joined"
	FrameStatus     = "status"
	FrameTranscript = "transcript"
	FrameLeft       = "left"
	FrameError      = "error"
	FramePong       = "pong"
)

// TokenIssuer issues a credential for a display name.
type TokenIssuer interface {
	Issue(ctx context.Context, name string) (model.TokenGrant, error)
}

// BotScheduler arms the delayed bot trigger for a room.
type BotScheduler interface {
	Schedule(roomID string) (cancel func())
}

// Deps 处理器依赖
type Deps struct {
	Tokens      TokenIssuer
	Chats       session.ChatPool
	Videos      session.VideoFactory
	Bot         BotScheduler
	Sessions    *meetingservice.Service
	Options     session.Options
	BotUserID   string
	ChannelType string
	Metrics     *observe.Metrics
}

// WebSocketHandler 会议页面的 WebSocket 处理器。一条连接即一次挂载的会话，
// 连接关闭即卸载。
type WebSocketHandler struct {
	deps     Deps
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(deps Deps) *WebSocketHandler {
	if deps.ChannelType == "" {
		deps.ChannelType = "messaging"
	}
	return &WebSocketHandler{
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/meetings/{roomID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// mount 一次挂载的状态。mounted 与 booted 决定由谁执行清理：
// 连接先断开时由启动协程清理，启动先完成时由连接协程清理。
type mount struct {
	h      *WebSocketHandler
	conn   *websocket.Conn
	roomID string
	name   string

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu        sync.Mutex
	mounted   bool
	booted    bool
	sessionID string
	sess      *session.Session
	binder    *transcript.Binder
	cancelSub func()
	cancelBot func()
	forwardWG sync.WaitGroup
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(chi.URLParam(r, "roomID"))
	if roomID == "" {
		http.Error(w, "roomID is required", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = defaultName
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Str("module", "websocket").Err(err).Msg("upgrade failed")
		return
	}

	m := &mount{h: h, conn: conn, roomID: roomID, name: name, mounted: true}
	defer m.unmount()

	log.Info().Str("module", "websocket").Str("room_id", roomID).Str("name", name).Msg("meeting mounted")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go m.pingLoop(ctx)

	m.send(FrameConnecting, map[string]any{"roomId": roomID, "name": name})

	// 启动不随连接取消；连接断开后结果被丢弃
	go m.bootstrap(context.WithoutCancel(r.Context()))

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Str("module", "websocket").Err(err).Msg("read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case "ping":
			m.send(FramePong, nil)
		case "leave":
			m.send(FrameLeft, map[string]string{"reason": "left"})
			return
		default:
			m.sendError("unsupported message type: " + msg.Type)
		}
	}
}

// bootstrap 签发凭证、编排会话、挂接转写并安排机器人触发。
func (m *mount) bootstrap(ctx context.Context) {
	h := m.h
	grant, err := h.deps.Tokens.Issue(ctx, m.name)
	if err != nil {
		log.Error().Str("module", "websocket").Str("room_id", m.roomID).Err(err).Msg("credential issue failed")
		if m.finishBoot() {
			m.sendError(apperr.PublicMessage(err, "Failed to generate token"))
		}
		return
	}

	agg := transcript.NewAggregator(h.deps.BotUserID, h.deps.Metrics)
	sess := session.New(h.deps.Chats, h.deps.Videos, grant, m.roomID, h.deps.Options, m.remoteLeave)

	info, err := h.deps.Sessions.Register(ctx, m.roomID, grant.Identity(), sess, agg)
	if err != nil {
		log.Error().Str("module", "websocket").Err(err).Msg("register session failed")
	}
	m.mu.Lock()
	m.sessionID = info.ID
	m.sess = sess
	m.mu.Unlock()

	if err := sess.Bootstrap(ctx); err != nil {
		if m.finishBoot() {
			m.sendError(apperr.PublicMessage(err, "Failed to join meeting"))
		}
		return
	}

	// 先订阅再挂接，watch 期间到达的条目也会被推送
	_, updates, unsubscribe := agg.Subscribe(64)
	done := make(chan struct{})
	ready := make(chan struct{})

	binder := transcript.NewBinder(agg)
	var channel transcript.ChannelSource
	if chat := sess.Chat(); chat != nil {
		channel = chat.Channel(h.deps.ChannelType, m.roomID)
	}
	binder.Bind(ctx, sess.Call(), channel)

	cancelBot := h.deps.Bot.Schedule(m.roomID)

	m.mu.Lock()
	m.binder = binder
	m.cancelSub = func() {
		unsubscribe()
		close(done)
	}
	m.cancelBot = cancelBot
	m.mu.Unlock()

	// 转写推送在 joined 帧之后开始
	m.forwardWG.Add(1)
	go func() {
		defer m.forwardWG.Done()
		select {
		case <-ready:
		case <-done:
			return
		}
		m.forward(agg, updates, done)
	}()

	if !m.finishBoot() {
		return
	}

	m.send(FrameJoined, map[string]any{
		"roomId":   m.roomID,
		"userId":   grant.UserID,
		"name":     grant.Name,
		"apiKey":   grant.APIKey,
		"token":    grant.Token,
		"advisory": sess.Advisory(),
	})
	m.send(FrameStatus, map[string]any{"listening": agg.Listening()})
	close(ready)
}

// forward 按 Seq 推送转写条目。通知只用于唤醒，条目总是从聚合器按上次推送的
// 位置读取，被丢弃的通知不会造成缺口。
func (m *mount) forward(agg *transcript.Aggregator, updates <-chan model.TranscriptEntry, done <-chan struct{}) {
	last := 0
	flush := func() {
		for _, entry := range agg.Since(last) {
			m.send(FrameTranscript, entry)
			last = entry.Seq
		}
	}

	flush()
	for {
		select {
		case <-done:
			return
		case entry := <-updates:
			if entry.Seq > last {
				flush()
			}
		}
	}
}

// finishBoot 标记启动结束。连接已断开时立即清理并返回 false。
func (m *mount) finishBoot() bool {
	m.mu.Lock()
	m.booted = true
	mounted := m.mounted
	m.mu.Unlock()

	if !mounted {
		log.Info().Str("module", "websocket").Str("room_id", m.roomID).Msg("connection gone before join completed, tearing down")
		m.cleanup()
		return false
	}
	return true
}

// unmount 连接关闭。启动已结束则由这里清理。
func (m *mount) unmount() {
	m.mu.Lock()
	m.mounted = false
	booted := m.booted
	m.mu.Unlock()

	m.close()
	if booted {
		m.cleanup()
	}
	log.Info().Str("module", "websocket").Str("room_id", m.roomID).Msg("meeting unmounted")
}

// cleanup 取消机器人触发、解除订阅并拆除会话。由 unmount 或 finishBoot 之一调用一次。
func (m *mount) cleanup() {
	m.mu.Lock()
	cancelBot, cancelSub, binder := m.cancelBot, m.cancelSub, m.binder
	sess, sessionID := m.sess, m.sessionID
	m.mu.Unlock()

	if cancelBot != nil {
		cancelBot()
	}
	if binder != nil {
		binder.Close()
	}
	if cancelSub != nil {
		cancelSub()
	}
	m.forwardWG.Wait()

	if sess != nil {
		sess.Teardown(context.Background())
	}
	if sessionID != "" {
		_ = m.h.deps.Sessions.Remove(context.Background(), sessionID)
	}
}

// remoteLeave 会话被远端结束或拆除时调用，只会被调用一次。
func (m *mount) remoteLeave() {
	m.mu.Lock()
	mounted := m.mounted
	m.mu.Unlock()
	if mounted {
		m.send(FrameLeft, map[string]string{"reason": "ended"})
	}
	m.close()
}

func (m *mount) close() {
	m.closeOnce.Do(func() {
		m.writeMu.Lock()
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		m.writeMu.Unlock()
		m.conn.Close()
	})
}

func (m *mount) send(frameType string, data interface{}) {
	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	msg := outgoingMessage{
		Type:      frameType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := m.conn.WriteJSON(msg); err != nil {
		log.Debug().Str("module", "websocket").Str("frame", frameType).Err(err).Msg("write frame failed")
	}
}

func (m *mount) sendError(message string) {
	m.send(FrameError, map[string]string{"message": message})
}

// pingLoop 定期发送ping消息
func (m *mount) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := m.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
