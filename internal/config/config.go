package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Platform PlatformConfig
	Meeting  MeetingConfig
	Log      LogConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// PlatformConfig 描述外部通信平台的凭证与端点。
type PlatformConfig struct {
	APIKey       string
	APISecret    string
	PublicAPIKey string
	VideoBaseURL string
	VideoWSURL   string
	ChatBaseURL  string
	ChatWSURL    string
	Timeout      time.Duration
}

// Enabled 表示是否提供了签发凭证所需的密钥。
func (c PlatformConfig) Enabled() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// ClientAPIKey returns the key handed to clients, falling back to the
// server key when no public key is configured.
func (c PlatformConfig) ClientAPIKey() string {
	if c.PublicAPIKey != "" {
		return c.PublicAPIKey
	}
	return c.APIKey
}

// MeetingConfig 描述会议编排相关配置。
type MeetingConfig struct {
	DefaultRoomID   string
	CallType        string
	ChatChannelType string
	CaptionLanguage string
	AgentBackendURL string
	BotUserID       string
	BotTriggerDelay time.Duration
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string
	Format string
}

var envBindings = map[string][]string{
	"server.port":               {"PORT"},
	"platform.api_key":          {"STREAM_API_KEY"},
	"platform.api_secret":       {"STREAM_API_SECRET"},
	"platform.public_api_key":   {"PUBLIC_STREAM_API_KEY", "NEXT_PUBLIC_STREAM_API_KEY"},
	"platform.video_base_url":   {"STREAM_VIDEO_BASE_URL"},
	"platform.video_ws_url":     {"STREAM_VIDEO_WS_URL"},
	"platform.chat_base_url":    {"STREAM_CHAT_BASE_URL"},
	"platform.chat_ws_url":      {"STREAM_CHAT_WS_URL"},
	"platform.timeout":          {"STREAM_TIMEOUT"},
	"meeting.default_room_id":   {"CALL_ID", "NEXT_PUBLIC_CALL_ID"},
	"meeting.call_type":         {"CALL_TYPE"},
	"meeting.chat_channel_type": {"CHAT_CHANNEL_TYPE"},
	"meeting.caption_language":  {"CAPTION_LANGUAGE"},
	"meeting.agent_backend_url": {"AGENT_BACKEND_URL", "NEXT_PUBLIC_PYTHON_BACKEND"},
	"meeting.bot_user_id":       {"BOT_USER_ID"},
	"meeting.bot_trigger_delay": {"BOT_TRIGGER_DELAY"},
	"log.level":                 {"LOG_LEVEL"},
	"log.format":                {"LOG_FORMAT"},
}

// Load 从环境变量（以及可选的 config/config.<env>.yaml）加载配置。
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	env := strings.TrimSpace(os.Getenv("CONFIG_ENV"))
	if env != "" {
		v.SetConfigFile(fmt.Sprintf("config/config.%s.yaml", env))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			log.Warn().Str("module", "config").Str("env", env).Msg("config file not found, using environment only")
		}
	}

	server, err := loadServerConfig(v.GetString("server.port"))
	if err != nil {
		return nil, err
	}

	timeout, err := parseDuration(v, "platform.timeout")
	if err != nil {
		return nil, err
	}
	delay, err := parseDuration(v, "meeting.bot_trigger_delay")
	if err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, fmt.Errorf("invalid meeting.bot_trigger_delay value %s: must not be negative", delay)
	}

	cfg := &Config{
		Server: server,
		Platform: PlatformConfig{
			APIKey:       trimmed(v, "platform.api_key"),
			APISecret:    trimmed(v, "platform.api_secret"),
			PublicAPIKey: trimmed(v, "platform.public_api_key"),
			VideoBaseURL: strings.TrimRight(trimmed(v, "platform.video_base_url"), "/"),
			VideoWSURL:   trimmed(v, "platform.video_ws_url"),
			ChatBaseURL:  strings.TrimRight(trimmed(v, "platform.chat_base_url"), "/"),
			ChatWSURL:    trimmed(v, "platform.chat_ws_url"),
			Timeout:      timeout,
		},
		Meeting: MeetingConfig{
			DefaultRoomID:   trimmed(v, "meeting.default_room_id"),
			CallType:        trimmed(v, "meeting.call_type"),
			ChatChannelType: trimmed(v, "meeting.chat_channel_type"),
			CaptionLanguage: trimmed(v, "meeting.caption_language"),
			AgentBackendURL: strings.TrimRight(trimmed(v, "meeting.agent_backend_url"), "/"),
			BotUserID:       trimmed(v, "meeting.bot_user_id"),
			BotTriggerDelay: delay,
		},
		Log: LogConfig{
			Level:  strings.ToLower(trimmed(v, "log.level")),
			Format: strings.ToLower(trimmed(v, "log.format")),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("platform.video_base_url", "https://video.stream-io-api.com/api/v2")
	v.SetDefault("platform.video_ws_url", "wss://video.stream-io-api.com/video/connect")
	v.SetDefault("platform.chat_base_url", "https://chat.stream-io-api.com")
	v.SetDefault("platform.chat_ws_url", "wss://chat.stream-io-api.com/connect")
	v.SetDefault("platform.timeout", "15s")
	v.SetDefault("meeting.call_type", "default")
	v.SetDefault("meeting.chat_channel_type", "messaging")
	v.SetDefault("meeting.caption_language", "en")
	v.SetDefault("meeting.bot_user_id", "meeting-assistant-bot")
	v.SetDefault("meeting.bot_trigger_delay", "3s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(port string) (ServerConfig, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func trimmed(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := trimmed(v, key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return d, nil
}
