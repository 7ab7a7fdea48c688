package playback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/fallenassoc/anonplay/internal/utils"
)

// TickElapsed advances the elapsed counter of every playing chat by
// one second. Paused chats keep their position.
func (c *Controller) TickElapsed() {
	for _, chat := range c.activeChats() {
		c.disp.Submit(chat, func() {
			if c.State(chat) != StatePlaying {
				return
			}
			if head := c.queues.Current(chat); head != nil {
				head.ElapsedSec++
			}
		})
	}
}

// RefreshUI re-renders the now-playing status message of every live
// chat. Edit failures for one chat are logged and never disturb the
// others.
func (c *Controller) RefreshUI(ctx context.Context) {
	for _, chat := range c.activeChats() {
		c.disp.Submit(chat, func() {
			head := c.queues.Current(chat)
			if head == nil || head.MessageRef == "" {
				return
			}
			marker := "▶"
			if c.State(chat) == StatePaused {
				marker = "⏸"
			}
			text := fmt.Sprintf("%s %s — %s / %s", marker, head.Title,
				utils.PrettyTime(head.ElapsedSec), utils.PrettyTime(head.DurationSec))
			if err := c.notifier.Edit(ctx, head.MessageRef, text); err != nil {
				slog.Debug("refresh status message", "chat", chat, "error", err)
			}
		})
	}
}

// Timers schedules the periodic elapsed tick, the UI refresh and an
// optional latency sample.
type Timers struct {
	cron *cron.Cron
}

func NewTimers(ctrl *Controller, sampleLatency func()) (*Timers, error) {
	c := cron.New()
	if _, err := c.AddFunc("@every 1s", ctrl.TickElapsed); err != nil {
		return nil, fmt.Errorf("schedule elapsed tick: %w", err)
	}
	if _, err := c.AddFunc("@every 7s", func() { ctrl.RefreshUI(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule ui refresh: %w", err)
	}
	if sampleLatency != nil {
		if _, err := c.AddFunc("@every 30s", sampleLatency); err != nil {
			return nil, fmt.Errorf("schedule latency sample: %w", err)
		}
	}
	return &Timers{cron: c}, nil
}

func (t *Timers) Start() { t.cron.Start() }

func (t *Timers) Stop() { <-t.cron.Stop().Done() }
