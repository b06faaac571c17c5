// Package meeting 登记本网关上已挂载的会话，供转写查询与订阅使用。
package meeting

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/service/session"
	"github.com/zhouzirui/z-meet/backend/internal/service/transcript"
)

var (
	ErrRoomRequired    = errors.New("room id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Live 一个已挂载会话及其转写
type Live struct {
	Info       model.SessionInfo
	Session    *session.Session
	Transcript *transcript.Aggregator
}

// Service keeps the sessions mounted on this gateway in memory.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Live
	gauge    func(ctx context.Context, delta int64)
}

// NewService creates an empty registry. gauge may be nil.
func NewService(gauge func(ctx context.Context, delta int64)) *Service {
	return &Service{
		sessions: make(map[string]*Live),
		gauge:    gauge,
	}
}

// Register 登记一个挂载的会话并分配会话 ID。
func (s *Service) Register(ctx context.Context, roomID string, identity model.Identity, sess *session.Session, agg *transcript.Aggregator) (model.SessionInfo, error) {
	if roomID == "" {
		return model.SessionInfo{}, ErrRoomRequired
	}

	info := model.SessionInfo{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    identity.ID,
		Name:      identity.DisplayName,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[info.ID] = &Live{Info: info, Session: sess, Transcript: agg}
	s.mu.Unlock()

	if s.gauge != nil {
		s.gauge(ctx, 1)
	}
	return info, nil
}

// Get retrieves a live session by identifier.
func (s *Service) Get(_ context.Context, sessionID string) (*Live, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return live, nil
}

// Remove 注销会话，未登记时返回 ErrSessionNotFound。
func (s *Service) Remove(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	if s.gauge != nil {
		s.gauge(ctx, -1)
	}
	return nil
}

// List returns all live sessions, oldest first.
func (s *Service) List(_ context.Context) []model.SessionInfo {
	s.mu.RLock()
	out := make([]model.SessionInfo, 0, len(s.sessions))
	for _, live := range s.sessions {
		out = append(out, live.Info)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// LoadTranscript returns the transcript entries for the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]model.TranscriptEntry, error) {
	live, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if live.Transcript == nil {
		return []model.TranscriptEntry{}, nil
	}
	return live.Transcript.Entries(), nil
}
