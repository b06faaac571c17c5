package transcript

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	model "github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	meetingservice "github.com/zhouzirui/z-meet/backend/internal/service/meeting"
	"github.com/zhouzirui/z-meet/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler 转写查询与订阅的HTTP处理器
type Handler struct {
	sessions  *meetingservice.Service
	heartbeat time.Duration
}

// New 创建处理器
func New(sessions *meetingservice.Service) *Handler {
	return &Handler{sessions: sessions, heartbeat: heartbeatInterval}
}

// RegisterRoutes 注册转写相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleList)
	r.Get("/sessions/{sessionID}/transcript", h.handleSnapshot)
	r.Get("/sessions/{sessionID}/transcript/stream", h.handleStream)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.sessions.List(r.Context()))
}

// handleSnapshot 返回当前转写
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	entries, err := h.sessions.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, meetingservice.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"entries":   entries,
	})
}

// handleStream 先推送已有条目，再推送新条目，直到客户端断开。
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	live, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if live.Transcript == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "transcript unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snapshot, updates, cancel := live.Transcript.Subscribe(64)
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Info().Str("module", "sse").Str("session_id", sessionID).Msg("opening transcript stream")

	last := 0
	send := func(entries []model.TranscriptEntry) error {
		for _, entry := range entries {
			if err := utils.SendSSEEvent(w, flusher, "transcript", entry); err != nil {
				return err
			}
			last = entry.Seq
		}
		return nil
	}
	if err := send(snapshot); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "sse").Str("session_id", sessionID).Msg("closing transcript stream")
			return
		case entry := <-updates:
			if entry.Seq <= last {
				continue
			}
			// 通知可能被丢弃过，从上次推送的位置补齐
			if err := send(live.Transcript.Since(last)); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
