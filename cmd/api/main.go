package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-meet/backend/internal/config"
	"github.com/zhouzirui/z-meet/backend/internal/handler"
	"github.com/zhouzirui/z-meet/backend/internal/handler/health"
	"github.com/zhouzirui/z-meet/backend/internal/handler/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/observe"
	"github.com/zhouzirui/z-meet/backend/internal/platform"
	"github.com/zhouzirui/z-meet/backend/internal/service/bot"
	"github.com/zhouzirui/z-meet/backend/internal/service/chathub"
	meetingservice "github.com/zhouzirui/z-meet/backend/internal/service/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/service/session"
	"github.com/zhouzirui/z-meet/backend/internal/service/token"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Str("module", "main").Err(err).Msg("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Str("module", "main").Err(err).Msg("failed to load configuration")
	}
	setupLogger(cfg.Log)

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		log.Fatal().Str("module", "main").Err(err).Msg("failed to initialize telemetry")
	}
	metrics := observe.DefaultMetrics()

	if !cfg.Platform.Enabled() {
		log.Warn().Str("module", "main").Msg("STREAM_API_KEY/STREAM_API_SECRET 未配置，令牌签发将失败")
	}
	if cfg.Meeting.DefaultRoomID == "" {
		log.Warn().Str("module", "main").Msg("CALL_ID 未配置，首页入会将被拒绝")
	}

	client := platform.New(platform.Config{
		APIKey:       cfg.Platform.APIKey,
		APISecret:    cfg.Platform.APISecret,
		VideoBaseURL: cfg.Platform.VideoBaseURL,
		VideoWSURL:   cfg.Platform.VideoWSURL,
		ChatBaseURL:  cfg.Platform.ChatBaseURL,
		ChatWSURL:    cfg.Platform.ChatWSURL,
		Timeout:      cfg.Platform.Timeout,
	}, nil)

	tokens := token.NewService(client, cfg.Platform.ClientAPIKey())
	chats := chathub.New(client, cfg.Platform.APIKey, func(ctx context.Context, delta int64) {
		metrics.ChatConnections.Add(ctx, delta)
	})
	sessions := meetingservice.NewService(func(ctx context.Context, delta int64) {
		metrics.ActiveSessions.Add(ctx, delta)
	})

	trigger := bot.NewTrigger(cfg.Meeting.AgentBackendURL, cfg.Meeting.BotTriggerDelay, nil, metrics)
	if !trigger.Enabled() {
		log.Info().Str("module", "main").Msg("agent backend not configured, bot trigger disabled")
	}

	router := handler.NewRouter(handler.Deps{
		Tokens:        tokens,
		DefaultRoomID: cfg.Meeting.DefaultRoomID,
		Meeting: meeting.Deps{
			Tokens:   tokens,
			Chats:    chats,
			Videos:   client,
			Bot:      trigger,
			Sessions: sessions,
			Options: session.Options{
				CallType:        cfg.Meeting.CallType,
				CaptionLanguage: cfg.Meeting.CaptionLanguage,
				Metrics:         metrics,
			},
			BotUserID:   cfg.Meeting.BotUserID,
			ChannelType: cfg.Meeting.ChatChannelType,
			Metrics:     metrics,
		},
		Sessions: sessions,
		Checkers: []health.Checker{{
			Name: "platform",
			Check: func(context.Context) error {
				if !cfg.Platform.Enabled() {
					return errors.New("platform credentials not configured")
				}
				return nil
			},
		}, {
			Name: "room",
			Check: func(context.Context) error {
				if cfg.Meeting.DefaultRoomID == "" {
					return errors.New("default meeting id not configured")
				}
				return nil
			},
		}},
		Metrics: metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return startServer(gctx, cfg.Server, router)
	})
	g.Go(func() error {
		<-gctx.Done()
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTelemetry(flushCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Str("module", "main").Err(err).Msg("server error")
	}
	log.Info().Str("module", "main").Msg("shutdown complete")
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("module", "main").Str("addr", addr).Msg("Z Meet backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
