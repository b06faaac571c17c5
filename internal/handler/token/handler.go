package token

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/observe"
	"github.com/zhouzirui/z-meet/backend/pkg/utils"
)

const maxBodyBytes = 1 << 16

// Issuer issues credentials for a display name.
type Issuer interface {
	Issue(ctx context.Context, name string) (meeting.TokenGrant, error)
}

// Handler 凭证签发的HTTP处理器
type Handler struct {
	issuer  Issuer
	metrics *observe.Metrics
}

// New 创建处理器。metrics 可以为 nil。
func New(issuer Issuer, metrics *observe.Metrics) *Handler {
	return &Handler{issuer: issuer, metrics: metrics}
}

// RegisterRoutes 注册凭证相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/token", h.handleIssue)
}

// handleIssue 签发凭证
func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name any `json:"name"`
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		h.record(r.Context(), "invalid")
		utils.RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	name, ok := payload.Name.(string)
	if !ok {
		h.record(r.Context(), "invalid")
		utils.RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	grant, err := h.issuer.Issue(r.Context(), name)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			h.record(r.Context(), "invalid")
		} else {
			h.record(r.Context(), "error")
			log.Error().Str("module", "token").Err(err).Msg("token generation failed")
		}
		utils.RespondAppError(w, err, "Failed to generate token")
		return
	}

	h.record(r.Context(), "ok")
	utils.RespondJSON(w, http.StatusOK, grant)
}

func (h *Handler) record(ctx context.Context, status string) {
	if h.metrics != nil {
		h.metrics.RecordToken(ctx, status)
	}
}
