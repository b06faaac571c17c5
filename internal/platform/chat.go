package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
)

// ChatClient 已连接的聊天客户端。
type ChatClient interface {
	UserID() string
	Channel(channelType, id string) Channel
	Disconnect() error
}

// Channel 聊天频道句柄。
type Channel interface {
	CID() string
	Watch(ctx context.Context) error
	On(eventType string, fn Handler) (off func())
}

// ConnectChat 为身份建立聊天事件连接。
func (c *Client) ConnectChat(ctx context.Context, identity meeting.Identity, token string) (ChatClient, error) {
	u, err := url.Parse(c.cfg.ChatWSURL)
	if err != nil {
		return nil, fmt.Errorf("parse chat ws url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.cfg.APIKey)
	u.RawQuery = q.Encode()

	cc := &chatClient{
		client:   c,
		identity: identity,
		token:    token,
		disp:     newDispatcher(),
		channels: make(map[string]*channel),
	}
	auth := map[string]any{
		"token":        token,
		"user_id":      identity.ID,
		"user_details": identityPayload(identity),
	}
	s, err := dialEventStream(ctx, "chat", u.String(), auth, cc.disp, c.stream)
	if err != nil {
		return nil, err
	}
	cc.stream = s
	return cc, nil
}

type chatClient struct {
	client   *Client
	identity meeting.Identity
	token    string
	disp     *dispatcher
	stream   *eventStream

	mu       sync.Mutex
	channels map[string]*channel
}

func (cc *chatClient) UserID() string { return cc.identity.ID }

func (cc *chatClient) Channel(channelType, id string) Channel {
	cid := channelType + ":" + id

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if existing, ok := cc.channels[cid]; ok {
		return existing
	}
	ch := &channel{chat: cc, channelType: channelType, id: id}
	cc.channels[cid] = ch
	return ch
}

func (cc *chatClient) Disconnect() error {
	return cc.stream.Close()
}

type channel struct {
	chat        *chatClient
	channelType string
	id          string
}

func (ch *channel) CID() string { return ch.channelType + ":" + ch.id }

// Watch 查询频道状态并订阅其事件，完成即表示初始同步结束。
func (ch *channel) Watch(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/channels/%s/%s/query", ch.chat.client.cfg.ChatBaseURL,
		url.PathEscape(ch.channelType), url.PathEscape(ch.id))
	query := url.Values{"connection_id": {ch.chat.stream.connectionID}}
	body := map[string]any{"state": true, "watch": true}
	return ch.chat.client.do(ctx, http.MethodPost, endpoint, ch.chat.token, query, body, nil)
}

func (ch *channel) On(eventType string, fn Handler) (off func()) {
	cid := ch.CID()
	return ch.chat.disp.on(eventType, func(ev Event) {
		if ev.CID != "" && ev.CID != cid {
			return
		}
		fn(ev)
	})
}
