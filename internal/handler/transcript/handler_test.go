package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/platform"
	meetingservice "github.com/zhouzirui/z-meet/backend/internal/service/meeting"
	transcriptservice "github.com/zhouzirui/z-meet/backend/internal/service/transcript"
)

func setup(t *testing.T) (*chi.Mux, *transcriptservice.Aggregator, string) {
	t.Helper()
	sessions := meetingservice.NewService(nil)
	agg := transcriptservice.NewAggregator("bot", nil)
	info, err := sessions.Register(context.Background(), "weekly", meeting.Identity{ID: "alice-1", DisplayName: "Alice"}, nil, agg)
	if err != nil {
		t.Fatalf("Register err: %v", err)
	}

	r := chi.NewRouter()
	New(sessions).RegisterRoutes(r)
	return r, agg, info.ID
}

func TestSnapshot(t *testing.T) {
	r, agg, id := setup(t)
	agg.HandleCaption(platform.Event{ClosedCaption: &meeting.Caption{Text: "hello", User: &meeting.User{ID: "u1"}}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/transcript", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Entries []meeting.TranscriptEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].SpeakerLabel != "u1" || body.Entries[0].Origin != meeting.OriginCaption {
		t.Fatalf("unexpected entries %+v", body.Entries)
	}
}

func TestSnapshotUnknownSession(t *testing.T) {
	r, _, _ := setup(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/missing/transcript", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamSendsBacklogThenUpdates(t *testing.T) {
	r, agg, id := setup(t)
	agg.HandleCaption(platform.Event{ClosedCaption: &meeting.Caption{Text: "first"}})

	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+id+"/transcript/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request err: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() meeting.TranscriptEntry {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read err: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				var entry meeting.TranscriptEntry
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &entry); err != nil {
					t.Fatalf("decode err: %v", err)
				}
				return entry
			}
		}
	}

	if got := next(); got.Text != "first" {
		t.Fatalf("expected backlog entry, got %+v", got)
	}

	agg.HandleMessage(platform.Event{Message: &meeting.ChatMessage{Text: "summary", User: &meeting.User{ID: "bot"}}})
	if got := next(); got.Text != "summary" || got.Origin != meeting.OriginBot {
		t.Fatalf("expected bot entry, got %+v", got)
	}
}
