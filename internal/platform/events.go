package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
)

// 平台事件类型
const (
	EventConnectionOK    = "connection.ok"
	EventConnectionError = "connection.error"
	EventHealthCheck     = "health.check"
	EventClosedCaption   = "call.closed_caption"
	EventCallEnded       = "call.ended"
	EventSessionEnded    = "call.session_ended"
	EventMessageNew      = "message.new"
	// EventAny matches every event type.
	EventAny = "*"
)

// Event 事件流上的一帧
type Event struct {
	Type          string               `json:"type"`
	CallCID       string               `json:"call_cid,omitempty"`
	CID           string               `json:"cid,omitempty"`
	ConnectionID  string               `json:"connection_id,omitempty"`
	ClosedCaption *meeting.Caption     `json:"closed_caption,omitempty"`
	Message       *meeting.ChatMessage `json:"message,omitempty"`
	Error         *APIError            `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Handler receives dispatched events. It runs on the stream's read goroutine.
type Handler func(Event)

// dispatcher 按事件类型分发给已注册的处理器
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string]map[string]Handler)}
}

// on registers fn and returns a func that removes it. Calling off more than
// once is safe.
func (d *dispatcher) on(eventType string, fn Handler) (off func()) {
	id := uuid.NewString()

	d.mu.Lock()
	if d.handlers[eventType] == nil {
		d.handlers[eventType] = make(map[string]Handler)
	}
	d.handlers[eventType][id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if hs, ok := d.handlers[eventType]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(d.handlers, eventType)
			}
		}
	}
}

func (d *dispatcher) dispatch(ev Event) {
	d.mu.RLock()
	fns := make([]Handler, 0, len(d.handlers[ev.Type])+len(d.handlers[EventAny]))
	for _, fn := range d.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	for _, fn := range d.handlers[EventAny] {
		fns = append(fns, fn)
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (d *dispatcher) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, hs := range d.handlers {
		n += len(hs)
	}
	return n
}

// StreamOptions 事件流连接选项
type StreamOptions struct {
	HandshakeTimeout time.Duration // 握手与 connection.ok 等待时间
	ReadTimeout      time.Duration // 读取超时时间
	WriteTimeout     time.Duration // 写入超时时间
	PingInterval     time.Duration // Ping间隔
}

// DefaultStreamOptions 默认事件流选项
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		HandshakeTimeout: 15 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

// eventStream 一条到平台的 WebSocket 事件连接
type eventStream struct {
	name         string
	conn         *websocket.Conn
	connectionID string
	disp         *dispatcher
	opts         StreamOptions

	writeMu   sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// dialEventStream 建立连接，发送鉴权帧，并要求首帧为 connection.ok。
func dialEventStream(ctx context.Context, name, wsURL string, auth any, disp *dispatcher, opts StreamOptions) (*eventStream, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}

	header := http.Header{}
	header.Set("Stream-Auth-Type", "jwt")

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, apperr.Network(name+" connect failed", err)
	}

	conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, apperr.Network(name+" auth failed", err)
	}

	conn.SetReadDeadline(time.Now().Add(opts.HandshakeTimeout))
	var first Event
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, apperr.Network(name+" handshake failed", err)
	}
	if first.Type != EventConnectionOK {
		conn.Close()
		if first.Error != nil {
			return nil, apperr.Network(name+" rejected connection", first.Error)
		}
		return nil, apperr.Network(name+" handshake failed", fmt.Errorf("unexpected first frame %q", first.Type))
	}

	conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
		return nil
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &eventStream{
		name:         name,
		conn:         conn,
		connectionID: first.ConnectionID,
		disp:         disp,
		opts:         opts,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go s.readLoop()
	go s.pingLoop(loopCtx)

	log.Debug().Str("module", "platform").Str("stream", name).Str("connection_id", s.connectionID).Msg("event stream connected")
	return s, nil
}

// readLoop 读取事件并分发，连接出错时退出。
func (s *eventStream) readLoop() {
	defer close(s.done)
	defer s.cancel()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Str("module", "platform").Str("stream", s.name).Err(err).Msg("event stream read failed")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Str("module", "platform").Str("stream", s.name).Err(err).Msg("drop malformed event")
			continue
		}
		if ev.Type == EventHealthCheck {
			continue
		}
		s.disp.dispatch(ev)
	}
}

// pingLoop 定期发送ping消息
func (s *eventStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close 关闭连接，可重复调用。事件处理器可能在读循环内调用 Close，
// 因此这里不等待读循环退出。
func (s *eventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.opts.WriteTimeout))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// Done is closed once the read loop exits.
func (s *eventStream) Done() <-chan struct{} { return s.done }
