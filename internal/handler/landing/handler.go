package landing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	"github.com/zhouzirui/z-meet/backend/pkg/utils"
)

const defaultName = "Guest"

var ErrRoomNotConfigured = apperr.Configuration("Meeting ID not configured")

// Handler 首页入会的HTTP处理器
type Handler struct {
	defaultRoomID string
}

// New 创建处理器
func New(defaultRoomID string) *Handler {
	return &Handler{defaultRoomID: strings.TrimSpace(defaultRoomID)}
}

// RegisterRoutes 注册首页相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/join", h.handleJoin)
}

type joinResponse struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	Path   string `json:"path"`
}

// handleJoin 解析入会目标。没有配置默认房间时拒绝入会。
func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.defaultRoomID == "" {
		log.Error().Str("module", "landing").Msg("default meeting id is not configured")
		utils.RespondAppError(w, ErrRoomNotConfigured, ErrRoomNotConfigured.Message)
		return
	}

	name := strings.TrimSpace(payload.Name)
	if name == "" {
		name = defaultName
	}

	utils.RespondJSON(w, http.StatusOK, joinResponse{
		RoomID: h.defaultRoomID,
		Name:   name,
		Path:   "/meeting/" + url.PathEscape(h.defaultRoomID) + "?name=" + url.QueryEscape(name),
	})
}
