package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
)

// VideoClient 绑定到单个身份的视频客户端。
type VideoClient interface {
	Call(callType, id string) Call
	Disconnect() error
}

// Call 一个房间的操作句柄。
type Call interface {
	CID() string
	Get(ctx context.Context) (meeting.Room, error)
	Create(ctx context.Context, req meeting.CreateRoomRequest) (meeting.Room, error)
	UpdateMembers(ctx context.Context, memberIDs []string) error
	Join(ctx context.Context) error
	EnableCamera(ctx context.Context) error
	EnableMicrophone(ctx context.Context) error
	StartClosedCaptions(ctx context.Context, language string) error
	StopClosedCaptions(ctx context.Context) error
	Leave(ctx context.Context) error
	On(eventType string, fn Handler) (off func())
}

var ErrNotJoined = errors.New("call not joined")

// NewVideoClient 创建绑定身份与凭证的视频客户端，不发起网络请求。
func (c *Client) NewVideoClient(identity meeting.Identity, token string) VideoClient {
	return &videoClient{
		client:   c,
		identity: identity,
		token:    token,
		disp:     newDispatcher(),
		calls:    make(map[string]*call),
	}
}

type videoClient struct {
	client   *Client
	identity meeting.Identity
	token    string
	disp     *dispatcher

	mu     sync.Mutex
	calls  map[string]*call
	stream *eventStream
}

func (v *videoClient) Call(callType, id string) Call {
	cid := callType + ":" + id

	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.calls[cid]; ok {
		return existing
	}
	c := &call{video: v, callType: callType, id: id}
	v.calls[cid] = c
	return c
}

// connect 懒加载协调器事件流，只建立一次。
func (v *videoClient) connect(ctx context.Context) (*eventStream, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream != nil {
		select {
		case <-v.stream.Done():
			v.stream = nil
		default:
			return v.stream, nil
		}
	}

	u, err := url.Parse(v.client.cfg.VideoWSURL)
	if err != nil {
		return nil, fmt.Errorf("parse video ws url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", v.client.cfg.APIKey)
	u.RawQuery = q.Encode()

	auth := map[string]any{
		"token":        v.token,
		"user_details": identityPayload(v.identity),
	}
	s, err := dialEventStream(ctx, "video coordinator", u.String(), auth, v.disp, v.client.stream)
	if err != nil {
		return nil, err
	}
	v.stream = s
	return s, nil
}

func (v *videoClient) closeStream() error {
	v.mu.Lock()
	s := v.stream
	v.stream = nil
	v.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (v *videoClient) Disconnect() error {
	return v.closeStream()
}

type call struct {
	video    *videoClient
	callType string
	id       string

	mu     sync.Mutex
	joined bool
}

func (c *call) CID() string { return c.callType + ":" + c.id }

func (c *call) endpoint(suffix string) string {
	return fmt.Sprintf("%s/video/call/%s/%s%s", c.video.client.cfg.VideoBaseURL,
		url.PathEscape(c.callType), url.PathEscape(c.id), suffix)
}

func (c *call) do(ctx context.Context, method, suffix string, body, out any) error {
	var query url.Values
	c.video.mu.Lock()
	if c.video.stream != nil {
		query = url.Values{"connection_id": {c.video.stream.connectionID}}
	}
	c.video.mu.Unlock()
	return c.video.client.do(ctx, method, c.endpoint(suffix), c.video.token, query, body, out)
}

type callMember struct {
	UserID string `json:"user_id"`
}

type callResponse struct {
	Call struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		CreatedBy struct {
			ID string `json:"id"`
		} `json:"created_by"`
		Settings struct {
			Transcription struct {
				Mode              string `json:"mode"`
				ClosedCaptionMode string `json:"closed_caption_mode"`
			} `json:"transcription"`
		} `json:"settings"`
	} `json:"call"`
	Members []callMember `json:"members"`
}

func (r callResponse) room() meeting.Room {
	room := meeting.Room{
		ID:          r.Call.ID,
		Type:        r.Call.Type,
		CreatedByID: r.Call.CreatedBy.ID,
		Settings: meeting.RoomSettings{
			TranscriptionMode: r.Call.Settings.Transcription.Mode,
			ClosedCaptionMode: r.Call.Settings.Transcription.ClosedCaptionMode,
		},
	}
	for _, m := range r.Members {
		room.Members = append(room.Members, m.UserID)
	}
	return room
}

func (c *call) Get(ctx context.Context) (meeting.Room, error) {
	var resp callResponse
	if err := c.do(ctx, http.MethodGet, "", nil, &resp); err != nil {
		return meeting.Room{}, err
	}
	return resp.room(), nil
}

func (c *call) Create(ctx context.Context, req meeting.CreateRoomRequest) (meeting.Room, error) {
	type transcription struct {
		Mode              string `json:"mode,omitempty"`
		ClosedCaptionMode string `json:"closed_caption_mode,omitempty"`
	}
	body := map[string]any{
		"data": map[string]any{
			"created_by_id": req.CreatedByID,
			"members":       []callMember{{UserID: req.CreatedByID}},
			"settings_override": map[string]any{
				"transcription": transcription{
					Mode:              req.Settings.TranscriptionMode,
					ClosedCaptionMode: req.Settings.ClosedCaptionMode,
				},
			},
		},
	}
	var resp callResponse
	if err := c.do(ctx, http.MethodPost, "", body, &resp); err != nil {
		return meeting.Room{}, err
	}
	return resp.room(), nil
}

// UpdateMembers 写入成员列表，后写者覆盖。
func (c *call) UpdateMembers(ctx context.Context, memberIDs []string) error {
	members := make([]callMember, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, callMember{UserID: id})
	}
	return c.do(ctx, http.MethodPost, "/members", map[string]any{"update_members": members}, nil)
}

// Join 建立协调器事件流并加入房间。
func (c *call) Join(ctx context.Context) error {
	if _, err := c.video.connect(ctx); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, "/join", map[string]any{"create": false}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	return nil
}

func (c *call) isJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *call) publishTrack(ctx context.Context, kind string) error {
	if !c.isJoined() {
		return ErrNotJoined
	}
	return c.do(ctx, http.MethodPost, "/tracks", map[string]any{"kind": kind, "enabled": true}, nil)
}

func (c *call) EnableCamera(ctx context.Context) error { return c.publishTrack(ctx, "video") }

func (c *call) EnableMicrophone(ctx context.Context) error { return c.publishTrack(ctx, "audio") }

func (c *call) StartClosedCaptions(ctx context.Context, language string) error {
	body := map[string]any{}
	if language != "" {
		body["language"] = language
	}
	return c.do(ctx, http.MethodPost, "/start_closed_captions", body, nil)
}

func (c *call) StopClosedCaptions(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop_closed_captions", nil, nil)
}

// Leave 离开房间并关闭协调器事件流。未加入时为空操作。
func (c *call) Leave(ctx context.Context) error {
	c.mu.Lock()
	joined := c.joined
	c.joined = false
	c.mu.Unlock()
	if !joined {
		return nil
	}
	return c.video.closeStream()
}

// On 注册本房间的事件处理器。
func (c *call) On(eventType string, fn Handler) (off func()) {
	cid := c.CID()
	return c.video.disp.on(eventType, func(ev Event) {
		if ev.CallCID != "" && ev.CallCID != cid {
			return
		}
		fn(ev)
	})
}
