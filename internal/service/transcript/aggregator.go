// Package transcript 把字幕事件与自动参与者的聊天消息合并为一份只追加的转写列表。
//
// 顺序严格按事件到达顺序，不按负载中的时间重排，也不去重。
package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/model/meeting"
	"github.com/zhouzirui/z-meet/backend/internal/observe"
	"github.com/zhouzirui/z-meet/backend/internal/platform"
)

const (
	unknownSpeaker = "Unknown"
	botSpeaker     = "Meeting Assistant"
)

// Aggregator 转写聚合器
type Aggregator struct {
	botUserID string
	metrics   *observe.Metrics
	now       func() time.Time

	mu        sync.Mutex
	entries   []meeting.TranscriptEntry
	listening bool
	subs      map[int]chan meeting.TranscriptEntry
	nextSub   int
}

// NewAggregator 创建聚合器。只有 botUserID 发出的聊天消息会进入转写。
func NewAggregator(botUserID string, metrics *observe.Metrics) *Aggregator {
	return &Aggregator{
		botUserID: botUserID,
		metrics:   metrics,
		now:       time.Now,
		entries:   make([]meeting.TranscriptEntry, 0, 64),
		subs:      make(map[int]chan meeting.TranscriptEntry),
	}
}

// HandleCaption maps a closed caption event to a caption-origin entry.
func (a *Aggregator) HandleCaption(ev platform.Event) {
	c := ev.ClosedCaption
	if c == nil {
		return
	}

	speaker := unknownSpeaker
	if c.User != nil {
		switch {
		case c.User.Name != "":
			speaker = c.User.Name
		case c.User.ID != "":
			speaker = c.User.ID
		}
	}

	a.append(meeting.TranscriptEntry{
		Text:         c.Text,
		SpeakerLabel: speaker,
		Timestamp:    a.stamp(c.StartTime),
		Origin:       meeting.OriginCaption,
	})
}

// HandleMessage appends chat messages authored by the automated participant
// and discards everything else.
func (a *Aggregator) HandleMessage(ev platform.Event) {
	m := ev.Message
	if m == nil || m.User == nil || m.User.ID != a.botUserID {
		return
	}

	speaker := botSpeaker
	if m.User.Name != "" {
		speaker = m.User.Name
	}

	a.append(meeting.TranscriptEntry{
		Text:         m.Text,
		SpeakerLabel: speaker,
		Timestamp:    a.stamp(m.CreatedAt),
		Origin:       meeting.OriginBot,
	})
}

func (a *Aggregator) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return a.now()
	}
	return t
}

func (a *Aggregator) append(entry meeting.TranscriptEntry) {
	a.mu.Lock()
	entry.Seq = len(a.entries) + 1
	a.entries = append(a.entries, entry)
	for id, ch := range a.subs {
		select {
		case ch <- entry:
		default:
			log.Warn().Str("module", "transcript").Int("subscriber", id).Int("seq", entry.Seq).Msg("subscriber buffer full, notification dropped")
		}
	}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordTranscriptEntry(context.Background(), string(entry.Origin))
	}
}

// Entries 返回当前转写的副本。
func (a *Aggregator) Entries() []meeting.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]meeting.TranscriptEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Since 返回序号大于 seq 的条目副本。订阅者据此补齐被丢弃的通知。
func (a *Aggregator) Since(seq int) []meeting.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(a.entries) {
		return nil
	}
	out := make([]meeting.TranscriptEntry, len(a.entries)-seq)
	copy(out, a.entries[seq:])
	return out
}

func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Listening 频道初始同步完成后为 true。
func (a *Aggregator) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

func (a *Aggregator) setListening(v bool) {
	a.mu.Lock()
	a.listening = v
	a.mu.Unlock()
}

// Subscribe 订阅之后追加的条目，返回已有条目的快照。缓冲区满时丢弃通知，
// 条目本身仍保留在列表中；订阅者按 Seq 发现缺口后用 Since 补齐。
func (a *Aggregator) Subscribe(buffer int) (snapshot []meeting.TranscriptEntry, updates <-chan meeting.TranscriptEntry, cancel func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan meeting.TranscriptEntry, buffer)

	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	snapshot = make([]meeting.TranscriptEntry, len(a.entries))
	copy(snapshot, a.entries)
	a.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}
	return snapshot, ch, cancel
}
