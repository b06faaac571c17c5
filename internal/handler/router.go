package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-meet/backend/internal/handler/health"
	"github.com/zhouzirui/z-meet/backend/internal/handler/landing"
	"github.com/zhouzirui/z-meet/backend/internal/handler/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/handler/token"
	"github.com/zhouzirui/z-meet/backend/internal/handler/transcript"
	middlewarePkg "github.com/zhouzirui/z-meet/backend/internal/middleware"
	"github.com/zhouzirui/z-meet/backend/internal/observe"
	meetingservice "github.com/zhouzirui/z-meet/backend/internal/service/meeting"
)

// Deps 路由所需的服务
type Deps struct {
	Tokens        token.Issuer
	DefaultRoomID string
	Meeting       meeting.Deps
	Sessions      *meetingservice.Service
	Checkers      []health.Checker
	Metrics       *observe.Metrics
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(deps.Metrics))
	r.Use(middlewarePkg.CORS())

	health.New(deps.Checkers...).RegisterRoutes(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	tokenHandler := token.New(deps.Tokens, deps.Metrics)
	landingHandler := landing.New(deps.DefaultRoomID)
	meetingHandler := meeting.NewWebSocketHandler(deps.Meeting)
	transcriptHandler := transcript.New(deps.Sessions)

	r.Route("/api", func(api chi.Router) {
		// 凭证签发
		tokenHandler.RegisterRoutes(api)

		// 落地页入会
		landingHandler.RegisterRoutes(api)

		// 会议挂载连接
		meetingHandler.RegisterRoutes(api)

		transcriptHandler.RegisterRoutes(api)
	})

	return r
}
