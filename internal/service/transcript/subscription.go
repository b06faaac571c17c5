package transcript

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-meet/backend/internal/platform"
)

// CallSource emits caption events.
type CallSource interface {
	On(eventType string, fn platform.Handler) (off func())
}

// ChannelSource emits chat messages once watched.
type ChannelSource interface {
	Watch(ctx context.Context) error
	On(eventType string, fn platform.Handler) (off func())
}

// Subscription 持有房间与频道两个句柄上的监听，Close 一次性全部解除。
type Subscription struct {
	agg       *Aggregator
	call      CallSource
	channel   ChannelSource
	offs      []func()
	closeOnce sync.Once
}

// Attach 在两个句柄上注册监听并开始 watch 频道。watch 成功后 listening 置为
// true；失败只记录日志，字幕监听仍然有效。任一句柄可以为 nil。
func (a *Aggregator) Attach(ctx context.Context, call CallSource, channel ChannelSource) *Subscription {
	s := &Subscription{agg: a, call: call, channel: channel}

	if call != nil {
		s.offs = append(s.offs, call.On(platform.EventClosedCaption, a.HandleCaption))
	}
	if channel != nil {
		s.offs = append(s.offs, channel.On(platform.EventMessageNew, a.HandleMessage))
		if err := channel.Watch(ctx); err != nil {
			log.Error().Str("module", "transcript").Err(err).Msg("failed to watch chat channel")
		} else {
			a.setListening(true)
		}
	}

	log.Debug().Str("module", "transcript").Int("listeners", len(s.offs)).Msg("listening for captions and bot messages")
	return s
}

// Close 解除所有监听，可重复调用。
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		for _, off := range s.offs {
			off()
		}
		s.offs = nil
		s.agg.setListening(false)
	})
}

// Binder 在句柄变化时先解除旧订阅再建立新订阅，保证同一时刻只有一组监听。
type Binder struct {
	agg *Aggregator

	mu      sync.Mutex
	call    CallSource
	channel ChannelSource
	sub     *Subscription
}

func NewBinder(agg *Aggregator) *Binder {
	return &Binder{agg: agg}
}

// Bind 绑定 (call, channel)。两者都未变化时不做任何事。
func (b *Binder) Bind(ctx context.Context, call CallSource, channel ChannelSource) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil && b.call == call && b.channel == channel {
		return
	}
	if b.sub != nil {
		b.sub.Close()
		b.sub = nil
	}

	b.call, b.channel = call, channel
	if call == nil && channel == nil {
		return
	}
	b.sub = b.agg.Attach(ctx, call, channel)
}

// Close 解除当前订阅。
func (b *Binder) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		b.sub.Close()
		b.sub = nil
	}
	b.call, b.channel = nil, nil
}
