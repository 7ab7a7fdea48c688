package playback

import (
	"context"
	"log/slog"

	"github.com/fallenassoc/anonplay/internal/backend"
)

// Bridge drains backend lifecycle events into the per-chat workers.
// Events for the same chat apply in arrival order; different chats
// never wait on each other.
type Bridge struct {
	ctrl *Controller
}

func NewBridge(ctrl *Controller) *Bridge {
	return &Bridge{ctrl: ctrl}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (b *Bridge) Run(ctx context.Context, events <-chan backend.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handle(ctx, ev)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, ev backend.Event) {
	slog.Debug("backend event", "kind", ev.Kind, "chat", ev.Chat)
	switch ev.Kind {
	case backend.EventStreamEnded:
		b.ctrl.disp.Submit(ev.Chat, func() {
			if err := b.ctrl.advance(ctx, ev.Chat); err != nil {
				slog.Error("advance after stream end", "chat", ev.Chat, "error", err)
			}
		})
	case backend.EventChatClosed:
		b.ctrl.markStopping(ev.Chat)
		if head := b.ctrl.queues.Current(ev.Chat); head != nil {
			b.ctrl.fetcher.Cancel(head.ID, head.Video)
		}
		b.ctrl.disp.Submit(ev.Chat, func() {
			if err := b.ctrl.stopSession(ctx, ev.Chat); err != nil {
				slog.Error("stop after chat closed", "chat", ev.Chat, "error", err)
			}
		})
	}
}
