package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMicro})

	mode := flag.String("mode", "", "测试模式: token、join 或 transcript")
	base := flag.String("base", "http://localhost:8080", "网关地址")
	name := flag.String("name", "Tester", "显示名称")
	room := flag.String("room", "", "房间 ID，join 模式必填")
	session := flag.String("session", "", "会话 ID，transcript 模式必填")
	timeout := flag.Duration("timeout", 15*time.Second, "请求超时时间")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	baseURL := strings.TrimRight(*base, "/")
	client := &http.Client{Timeout: *timeout}

	var err error
	switch *mode {
	case "token":
		err = runToken(ctx, client, baseURL, *name)
	case "join":
		if *room == "" {
			log.Fatal().Msg("join 模式需要 -room")
		}
		err = runJoin(ctx, baseURL, *room, *name)
	case "transcript":
		if *session == "" {
			log.Fatal().Msg("transcript 模式需要 -session")
		}
		err = runTranscript(ctx, client, baseURL, *session)
	default:
		flag.Usage()
		log.Fatal().Msg("请通过 -mode=token、-mode=join 或 -mode=transcript 指定测试模式")
	}
	if err != nil {
		log.Fatal().Err(err).Str("mode", *mode).Msg("测试失败")
	}
}

func runToken(ctx context.Context, client *http.Client, baseURL, name string) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/token", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	log.Info().Int("status", resp.StatusCode).Dur("elapsed", time.Since(started)).Msg("token response")
	fmt.Println(string(raw))
	return nil
}

func runTranscript(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/sessions/"+url.PathEscape(sessionID)+"/transcript", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	log.Info().Int("status", resp.StatusCode).Msg("transcript response")
	fmt.Println(string(raw))
	return nil
}

// runJoin 建立会议连接并打印收到的每一帧，Ctrl+C 时发送 leave。
func runJoin(ctx context.Context, baseURL, roomID, name string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/meetings/" + url.PathEscape(roomID) + "/ws"
	u.RawQuery = url.Values{"name": {name}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()
	log.Info().Str("url", u.String()).Msg("connected")

	frames := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				frames <- err
				return
			}
			var frame struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(raw, &frame); err != nil {
				log.Warn().Err(err).Msg("undecodable frame")
				continue
			}
			log.Info().Str("type", frame.Type).RawJSON("data", nonEmpty(frame.Data)).Msg("frame")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("interrupted, leaving")
		_ = conn.WriteJSON(map[string]string{"type": "leave"})
		select {
		case <-frames:
		case <-time.After(3 * time.Second):
		}
		return nil
	case err := <-frames:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			log.Info().Msg("connection closed by gateway")
			return nil
		}
		return err
	}
}

func nonEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
