// Package session 编排一次入会：连接聊天、创建视频客户端、确保房间与成员、
// 加入并开启本地媒体，最后尝试开启字幕。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/observe"
	"github.com/zhouzirui/z-meet/backend/internal/platform"
)

// CaptionsAdvisory 字幕无法开启时展示给用户的提示
const CaptionsAdvisory = "Live transcription is not available. This may be a paid feature on your plan."

var (
	ErrAlreadyStarted = errors.New("session bootstrap already started")
	ErrTornDown       = errors.New("session already torn down")
)

// ChatPool hands out shared chat connections.
type ChatPool interface {
	Acquire(ctx context.Context, identity meeting.Identity, token string) (platform.ChatClient, error)
	Release(ctx context.Context, userID string) error
}

// VideoFactory builds video clients bound to an identity.
type VideoFactory interface {
	NewVideoClient(identity meeting.Identity, token string) platform.VideoClient
}

// Options 会话编排参数
type Options struct {
	CallType          string
	CaptionLanguage   string
	TranscriptionMode string
	ClosedCaptionMode string
	Metrics           *observe.Metrics
}

func (o *Options) applyDefaults() {
	if o.CallType == "" {
		o.CallType = "default"
	}
	if o.CaptionLanguage == "" {
		o.CaptionLanguage = "en"
	}
	if o.TranscriptionMode == "" {
		o.TranscriptionMode = "available"
	}
	if o.ClosedCaptionMode == "" {
		o.ClosedCaptionMode = "available"
	}
}

// Session 一个已挂载的会话实例。Bootstrap 与 Teardown 各自最多执行一次。
type Session struct {
	chats    ChatPool
	videos   VideoFactory
	opts     Options
	identity meeting.Identity
	token    string
	roomID   string

	start    Latch
	stop     Latch
	bootDone chan struct{}

	onLeave   func()
	leaveOnce sync.Once

	mu       sync.Mutex
	chat     platform.ChatClient
	video    platform.VideoClient
	call     platform.Call
	room     meeting.Room
	advisory string
	offs     []func()
}

// New 创建会话。onLeave 在房间被远端结束或 Teardown 时触发，且只触发一次。
func New(chats ChatPool, videos VideoFactory, grant meeting.TokenGrant, roomID string, opts Options, onLeave func()) *Session {
	opts.applyDefaults()
	return &Session{
		chats:    chats,
		videos:   videos,
		opts:     opts,
		identity: grant.Identity(),
		token:    grant.Token,
		roomID:   roomID,
		onLeave:  onLeave,
		bootDone: make(chan struct{}),
	}
}

// Bootstrap 按顺序执行入会步骤。第二次调用返回 ErrAlreadyStarted 且不产生任何平台调用；
// Teardown 之后调用返回 ErrTornDown。
func (s *Session) Bootstrap(ctx context.Context) (err error) {
	if !s.start.TryStart() {
		return ErrAlreadyStarted
	}
	defer close(s.bootDone)
	defer s.start.Finish()
	if s.stop.State() != LatchIdle {
		return ErrTornDown
	}

	ctx, span := observe.StartSpan(ctx, "session.bootstrap")
	defer span.End()
	span.SetAttributes(
		attribute.String("room.id", s.roomID),
		attribute.String("user.id", s.identity.ID),
	)

	started := time.Now()
	step := ""
	defer func() {
		if s.opts.Metrics != nil {
			s.opts.Metrics.BootstrapDuration.Record(ctx, time.Since(started).Seconds())
		}
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		if s.opts.Metrics != nil {
			s.opts.Metrics.RecordBootstrapFailure(ctx, step)
		}
		lg := observe.Logger(ctx, "session")
		lg.Error().Str("room_id", s.roomID).Str("user_id", s.identity.ID).
			Str("step", step).Err(err).Msg("bootstrap aborted")
	}()

	// 1. 聊天连接，已连接视为成功
	step = "chat"
	chat, err := s.chats.Acquire(ctx, s.identity, s.token)
	if err != nil {
		return fmt.Errorf("connect chat: %w", err)
	}
	s.mu.Lock()
	s.chat = chat
	s.mu.Unlock()

	// 2. 视频客户端，不发起网络请求
	step = "video"
	video := s.videos.NewVideoClient(s.identity, s.token)
	call := video.Call(s.opts.CallType, s.roomID)
	s.mu.Lock()
	s.video = video
	s.call = call
	s.mu.Unlock()

	// 3. 获取或创建房间
	step = "room"
	room, err := s.resolveRoom(ctx, call)
	if err != nil {
		return err
	}

	// 4. 确保自己是成员
	step = "membership"
	if !room.HasMember(s.identity.ID) {
		members := room.WithMember(s.identity.ID)
		if err := call.UpdateMembers(ctx, members); err != nil {
			return apperr.Network("update room members", err)
		}
		room.Members = members
	}
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()

	// 5. 加入并开启本地媒体，失败即终止会话
	step = "join"
	if err := call.Join(ctx); err != nil {
		return apperr.Network("join room", err)
	}
	step = "media"
	if err := call.EnableCamera(ctx); err != nil {
		return apperr.Network("enable camera", err)
	}
	if err := call.EnableMicrophone(ctx); err != nil {
		return apperr.Network("enable microphone", err)
	}

	// 6. 字幕为软失败
	step = "captions"
	if err := call.StartClosedCaptions(ctx, s.opts.CaptionLanguage); err != nil {
		s.mu.Lock()
		s.advisory = CaptionsAdvisory
		s.mu.Unlock()
		if s.opts.Metrics != nil {
			s.opts.Metrics.CaptionsUnavailable.Add(ctx, 1)
		}
		log.Warn().Str("module", "session").Str("room_id", s.roomID).
			Err(apperr.TransientFeature("captions unavailable", err)).Msg("continuing without captions")
	}

	// 7. 远端结束会话时触发 leave
	step = "events"
	offs := []func(){
		call.On(platform.EventSessionEnded, s.remoteEnded),
		call.On(platform.EventCallEnded, s.remoteEnded),
	}
	s.mu.Lock()
	s.offs = append(s.offs, offs...)
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("room_id", s.roomID).Str("user_id", s.identity.ID).
		Dur("elapsed", time.Since(started)).Msg("session joined")
	return nil
}

// resolveRoom 获取房间，不存在时创建。重复创建视为获取成功。
func (s *Session) resolveRoom(ctx context.Context, call platform.Call) (meeting.Room, error) {
	room, err := call.Get(ctx)
	if err == nil {
		return room, nil
	}
	if !platform.IsNotFound(err) {
		log.Warn().Str("module", "session").Str("room_id", s.roomID).Err(err).Msg("room fetch failed, trying create")
	}

	_, err = call.Create(ctx, meeting.CreateRoomRequest{
		CreatedByID: s.identity.ID,
		Settings: meeting.RoomSettings{
			TranscriptionMode: s.opts.TranscriptionMode,
			ClosedCaptionMode: s.opts.ClosedCaptionMode,
		},
	})
	if err != nil && !platform.IsAlreadyExists(err) {
		return meeting.Room{}, apperr.Network("create room", err)
	}

	room, err = call.Get(ctx)
	if err != nil {
		return meeting.Room{}, apperr.Network("fetch room", err)
	}
	return room, nil
}

func (s *Session) remoteEnded(platform.Event) {
	log.Info().Str("module", "session").Str("room_id", s.roomID).Msg("session ended remotely")
	s.fireLeave()
}

func (s *Session) fireLeave() {
	s.leaveOnce.Do(func() {
		if s.onLeave != nil {
			s.onLeave()
		}
	})
}

// Teardown 尽力停止字幕并离开房间，触发 leave 回调，释放聊天连接并断开视频客户端。
// 只执行一次；Bootstrap 从未开始时只触发 leave。Bootstrap 进行中时先等待它返回，
// 等待时长受 Bootstrap 的 ctx 约束。
func (s *Session) Teardown(ctx context.Context) {
	if !s.stop.TryStart() {
		return
	}
	defer s.stop.Finish()

	if s.start.State() == LatchInProgress {
		<-s.bootDone
	}

	s.mu.Lock()
	call, video, chat := s.call, s.video, s.chat
	offs := s.offs
	s.offs = nil
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}

	if call != nil {
		if err := call.StopClosedCaptions(ctx); err != nil {
			log.Debug().Str("module", "session").Err(err).Msg("stop captions ignored")
		}
		if err := call.Leave(ctx); err != nil {
			log.Debug().Str("module", "session").Err(err).Msg("leave ignored")
		}
	}

	s.fireLeave()

	if chat != nil {
		if err := s.chats.Release(ctx, s.identity.ID); err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("release chat failed")
		}
	}
	if video != nil {
		if err := video.Disconnect(); err != nil {
			log.Warn().Str("module", "session").Err(err).Msg("disconnect video failed")
		}
	}

	log.Info().Str("module", "session").Str("room_id", s.roomID).Str("user_id", s.identity.ID).Msg("session torn down")
}

func (s *Session) Identity() meeting.Identity { return s.identity }

func (s *Session) RoomID() string { return s.roomID }

// Advisory 返回面向用户的提示文案，没有时为空。
func (s *Session) Advisory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advisory
}

func (s *Session) Room() meeting.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Call 返回房间句柄，Bootstrap 之前为 nil。
func (s *Session) Call() platform.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// Chat 返回共享聊天连接，Bootstrap 之前为 nil。
func (s *Session) Chat() platform.ChatClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat
}

// Started reports the bootstrap latch state.
func (s *Session) Started() LatchState { return s.start.State() }

// Stopped reports the teardown latch state.
func (s *Session) Stopped() LatchState { return s.stop.State() }
