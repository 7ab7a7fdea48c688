package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fallenassoc/anonplay/internal/backend"
	"github.com/fallenassoc/anonplay/internal/config"
	"github.com/fallenassoc/anonplay/internal/fetch"
	"github.com/fallenassoc/anonplay/internal/media"
	"github.com/fallenassoc/anonplay/internal/metrics"
	"github.com/fallenassoc/anonplay/internal/queue"
	"github.com/fallenassoc/anonplay/internal/utils"
)

// Controller owns every chat's playback session. All session mutations
// run on the chat's dispatcher worker; the exported methods are thin
// wrappers that hop onto it.
type Controller struct {
	cfg      *config.Config
	queues   *queue.Queues
	pool     Pool
	fetcher  Fetcher
	resolver Resolver
	notifier Notifier
	flags    *callFlags
	disp     *dispatcher
	met      *metrics.Metrics

	mu       sync.Mutex
	states   map[string]*session
	stopping map[string]bool
}

type session struct {
	state State
}

func NewController(cfg *config.Config, store Store, queues *queue.Queues, pool Pool, fetcher Fetcher, resolver Resolver, notifier Notifier, met *metrics.Metrics) *Controller {
	return &Controller{
		cfg:      cfg,
		queues:   queues,
		pool:     pool,
		fetcher:  fetcher,
		resolver: resolver,
		notifier: notifier,
		flags:    newCallFlags(store),
		disp:     newDispatcher(),
		met:      met,
		states:   make(map[string]*session),
		stopping: make(map[string]bool),
	}
}

// Close stops the per-chat workers. In-flight fetches are not waited
// for; their results land in the artifact cache regardless.
func (c *Controller) Close() {
	c.disp.Close()
}

// State reports the chat's current session state.
func (c *Controller) State(chat string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[chat]; ok {
		return s.state
	}
	return StateIdle
}

func (c *Controller) setState(chat string, st State) {
	c.mu.Lock()
	s, ok := c.states[chat]
	if !ok {
		s = &session{state: StateIdle}
		c.states[chat] = s
	}
	changed := s.state != st
	s.state = st
	c.mu.Unlock()
	if changed && c.met != nil {
		c.met.Transitions.WithLabelValues(st.String()).Inc()
	}
}

func (c *Controller) startable(chat string) bool {
	st := c.State(chat)
	return st == StateIdle || st == StateEnded
}

// activeChats lists chats with a live session, for the periodic timers.
func (c *Controller) activeChats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for chat, s := range c.states {
		if s.state == StatePlaying || s.state == StatePaused {
			out = append(out, chat)
		}
	}
	return out
}

// Play resolves the request, enqueues the result and, when no session
// is active, starts playing the head. Resolution failures surface to
// the caller and leave the session untouched.
func (c *Controller) Play(ctx context.Context, chat string, req PlayRequest) error {
	return c.disp.Do(ctx, chat, func() error { return c.play(ctx, chat, req) })
}

func (c *Controller) play(ctx context.Context, chat string, req PlayRequest) error {
	idle := c.startable(chat)
	if idle {
		c.setState(chat, StateResolving)
	}
	active := c.flags.Active(ctx, chat)
	if active && c.queues.Len(chat) == 0 {
		// Queues are in-memory and start empty, so an active flag over
		// an empty queue is a leftover from a previous process. This
		// request resumes the session instead of queueing behind a head
		// that no longer exists.
		c.flags.SetActive(ctx, chat, false)
		active = false
	}
	items, err := c.resolveRequest(ctx, chat, req)
	if err != nil {
		if idle {
			c.setState(chat, StateIdle)
		}
		return err
	}

	firstPos := 0
	for i, it := range items {
		pos, err := c.queues.Add(chat, it)
		if err != nil {
			if i == 0 {
				if idle {
					c.setState(chat, StateIdle)
				}
				return err
			}
			c.say(ctx, chat, fmt.Sprintf("Queue full, enqueued the first %d tracks", i))
			break
		}
		if i == 0 {
			firstPos = pos
		}
	}

	if active {
		first := items[0]
		ref, err := c.notifier.Notify(ctx, chat, fmt.Sprintf("Queued at position %d: %s", firstPos+1, first.Title))
		if err == nil {
			first.MessageRef = ref
		}
		if idle {
			c.setState(chat, StateIdle)
		}
		return nil
	}
	return c.startHead(ctx, chat, 0)
}

func (c *Controller) resolveRequest(ctx context.Context, chat string, req PlayRequest) ([]*media.Item, error) {
	// Video requests are honored only when video playback is enabled.
	video := req.Video && c.cfg.VideoPlay

	switch {
	case req.Upload != nil:
		it := req.Upload
		it.Video = it.Video && c.cfg.VideoPlay
		if it.RequestedBy == "" {
			it.RequestedBy = req.RequestedBy
		}
		if err := c.checkDuration(it.DurationSec); err != nil {
			return nil, err
		}
		return []*media.Item{it}, nil

	case req.PlaylistURL != "":
		descs, err := c.resolver.ResolvePlaylist(ctx, req.PlaylistURL, c.cfg.PlaylistLimit)
		if err != nil {
			return nil, err
		}
		var items []*media.Item
		for i := range descs {
			if c.checkDuration(descs[i].DurationSec) != nil {
				slog.Info("skipping overlong playlist entry", "chat", chat, "title", descs[i].Title)
				continue
			}
			items = append(items, descs[i].Item(media.KindPlaylist, req.RequestedBy, video))
		}
		if len(items) == 0 {
			return nil, ErrNoResults
		}
		return items, nil

	default:
		d, err := c.resolver.Search(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, ErrNoResults
		}
		if err := c.checkDuration(d.DurationSec); err != nil {
			return nil, err
		}
		return []*media.Item{d.Item(media.KindSearch, req.RequestedBy, video)}, nil
	}
}

func (c *Controller) checkDuration(sec int) error {
	if c.cfg.DurationLimitSec > 0 && sec > c.cfg.DurationLimitSec {
		return fmt.Errorf("%w (%s over %s)", ErrDurationLimit, utils.PrettyTime(sec), utils.PrettyTime(c.cfg.DurationLimitSec))
	}
	return nil
}

// startHead fetches the queue head if needed and hands it to the
// assistant. A head whose fetch fails is dropped and the next one is
// tried; the session only stops once the queue drains.
func (c *Controller) startHead(ctx context.Context, chat string, seekSec int) error {
	for {
		head := c.queues.Current(chat)
		if head == nil {
			return c.endSession(ctx, chat)
		}
		if head.Path == "" {
			c.setState(chat, StateDownloading)
			path, err := c.fetcher.Fetch(ctx, head.ID, head.Video, c.progressFunc(chat, head))
			if err != nil {
				if errors.Is(err, context.Canceled) && c.isStopping(chat) {
					// The stop that cancelled this fetch is queued right
					// behind us and decides what happens next.
					return nil
				}
				// Includes a transfer another chat cancelled out from
				// under us; this chat still has a queue to work through.
				slog.Error("fetch failed", "chat", chat, "id", head.ID, "error", err)
				c.say(ctx, chat, "Download failed, skipping: "+head.Title)
				c.dropItem(ctx, chat, head)
				c.queues.RemoveCurrent(chat)
				continue
			}
			head.Path = path
		}
		return c.joinHead(ctx, chat, head, seekSec)
	}
}

func (c *Controller) joinHead(ctx context.Context, chat string, head *media.Item, seekSec int) error {
	conn, err := c.pool.Resolve(ctx, chat)
	if err != nil {
		c.say(ctx, chat, "No assistants available right now")
		return c.endSession(ctx, chat)
	}

	err = conn.Join(ctx, chat, head.Path, backend.JoinOpts{Video: head.Video, StartOffsetSec: seekSec})
	switch {
	case err == nil:
		head.ElapsedSec = seekSec
		if !c.flags.Active(ctx, chat) {
			c.flags.SetActive(ctx, chat, true)
			if c.met != nil {
				c.met.ActiveSessions.Inc()
				c.met.SessionsStarted.Inc()
			}
		}
		c.setState(chat, StatePlaying)
		c.announce(ctx, chat, head)
		return nil

	case errors.Is(err, backend.ErrFileNotFound):
		c.say(ctx, chat, "Media file went missing, skipping: "+head.Title)
		return c.advanceNow(ctx, chat)

	case errors.Is(err, backend.ErrNoAudioSource):
		c.say(ctx, chat, "No playable audio in: "+head.Title)
		return c.advanceNow(ctx, chat)

	case errors.Is(err, backend.ErrNoActiveCall):
		c.say(ctx, chat, "Start a voice call first, then try again")
		return c.endSession(ctx, chat)

	default:
		slog.Error("assistant join failed", "chat", chat, "error", err)
		c.say(ctx, chat, "Streaming backend error, stopping")
		return c.endSession(ctx, chat)
	}
}

// advance drops the current head and starts the next queued item. It
// is a no-op for chats without an active session, so a stray lifecycle
// event after Stop cannot restart playback.
func (c *Controller) advance(ctx context.Context, chat string) error {
	if !c.flags.Active(ctx, chat) {
		return nil
	}
	return c.advanceNow(ctx, chat)
}

// advanceNow advances without the active-session guard, for join
// failures that occur before the session activates.
func (c *Controller) advanceNow(ctx context.Context, chat string) error {
	old := c.queues.Current(chat)
	next := c.queues.Next(chat, false)
	if old != nil {
		c.dropItem(ctx, chat, old)
	}
	if next == nil {
		return c.endSession(ctx, chat)
	}
	return c.startHead(ctx, chat, 0)
}

// Skip moves to the next queued item.
func (c *Controller) Skip(ctx context.Context, chat string) error {
	return c.disp.Do(ctx, chat, func() error {
		if !c.flags.Active(ctx, chat) {
			return ErrNotPlaying
		}
		return c.advance(ctx, chat)
	})
}

// PlayNow enqueues the item at the head and starts it immediately.
// removeAt names a queue offset to drop before inserting, so replaying
// an already-queued item does not duplicate it; pass -1 to keep
// everything.
func (c *Controller) PlayNow(ctx context.Context, chat string, item *media.Item, removeAt int) error {
	return c.disp.Do(ctx, chat, func() error {
		c.queues.ForceAdd(chat, item, removeAt)
		return c.startHead(ctx, chat, 0)
	})
}

// PlayQueued moves an already-queued item to the head and plays it.
func (c *Controller) PlayQueued(ctx context.Context, chat string, itemID string) error {
	return c.disp.Do(ctx, chat, func() error {
		snap := c.queues.Snapshot(chat)
		for i, it := range snap {
			if it.ID == itemID {
				c.queues.ForceAdd(chat, it, i)
				return c.startHead(ctx, chat, 0)
			}
		}
		return ErrNoResults
	})
}

// Replay restarts the current head at the given offset without
// touching the queue.
func (c *Controller) Replay(ctx context.Context, chat string, offsetSec int) error {
	return c.disp.Do(ctx, chat, func() error {
		if !c.flags.Active(ctx, chat) {
			return ErrNotPlaying
		}
		head := c.queues.Current(chat)
		if head == nil {
			return ErrNotPlaying
		}
		return c.startHead(ctx, chat, offsetSec)
	})
}

func (c *Controller) Pause(ctx context.Context, chat string) error {
	return c.disp.Do(ctx, chat, func() error {
		switch c.State(chat) {
		case StatePaused:
			return ErrAlreadyPaused
		case StatePlaying:
		default:
			return ErrNotPlaying
		}
		conn, err := c.pool.Resolve(ctx, chat)
		if err != nil {
			return err
		}
		if err := conn.Pause(chat); err != nil {
			return err
		}
		c.setState(chat, StatePaused)
		return nil
	})
}

func (c *Controller) Resume(ctx context.Context, chat string) error {
	return c.disp.Do(ctx, chat, func() error {
		switch c.State(chat) {
		case StatePlaying:
			return ErrNotPaused
		case StatePaused:
		default:
			return ErrNotPlaying
		}
		conn, err := c.pool.Resolve(ctx, chat)
		if err != nil {
			return err
		}
		if err := conn.Resume(chat); err != nil {
			return err
		}
		c.setState(chat, StatePlaying)
		return nil
	})
}

// Stop tears the session down: clears the queue, leaves the call and
// flips the active flag off. The sticky assistant assignment survives.
// Stopping an idle chat is a no-op.
func (c *Controller) Stop(ctx context.Context, chat string) error {
	// Cancel a possibly in-flight fetch before hopping onto the worker,
	// so a blocked download unwinds promptly.
	c.markStopping(chat)
	if head := c.queues.Current(chat); head != nil {
		c.fetcher.Cancel(head.ID, head.Video)
	}
	return c.disp.Do(ctx, chat, func() error { return c.stopSession(ctx, chat) })
}

func (c *Controller) stopSession(ctx context.Context, chat string) error {
	c.clearStopping(chat)
	c.queues.Clear(chat)
	return c.endSession(ctx, chat)
}

// endSession deactivates the chat and releases its voice call. A chat
// that was never active has no call and no assignment to touch.
func (c *Controller) endSession(ctx context.Context, chat string) error {
	if c.flags.Active(ctx, chat) {
		c.flags.SetActive(ctx, chat, false)
		if c.met != nil {
			c.met.ActiveSessions.Dec()
			c.met.SessionsStopped.Inc()
		}
		c.leaveCall(ctx, chat)
	}
	c.setState(chat, StateEnded)
	return nil
}

func (c *Controller) leaveCall(ctx context.Context, chat string) {
	conn, err := c.pool.Resolve(ctx, chat)
	if err != nil {
		return
	}
	if err := conn.Leave(chat); err != nil {
		slog.Warn("leave call", "chat", chat, "error", err)
	}
}

func (c *Controller) markStopping(chat string) {
	c.mu.Lock()
	c.stopping[chat] = true
	c.mu.Unlock()
}

func (c *Controller) clearStopping(chat string) {
	c.mu.Lock()
	delete(c.stopping, chat)
	c.mu.Unlock()
}

func (c *Controller) isStopping(chat string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping[chat]
}

// dropItem releases the user-visible status message tied to an item
// that is leaving the queue.
func (c *Controller) dropItem(ctx context.Context, chat string, it *media.Item) {
	if it.MessageRef == "" {
		return
	}
	if err := c.notifier.Delete(ctx, it.MessageRef); err != nil {
		slog.Debug("delete status message", "chat", chat, "error", err)
	}
	it.MessageRef = ""
}

func (c *Controller) announce(ctx context.Context, chat string, head *media.Item) {
	text := fmt.Sprintf("Now playing: %s (%s) requested by %s", head.Title, utils.PrettyTime(head.DurationSec), head.RequestedBy)
	if head.MessageRef != "" {
		if err := c.notifier.Edit(ctx, head.MessageRef, text); err == nil {
			return
		}
		head.MessageRef = ""
	}
	ref, err := c.notifier.Notify(ctx, chat, text)
	if err != nil {
		slog.Warn("announce", "chat", chat, "error", err)
		return
	}
	head.MessageRef = ref
}

// say posts a fire-and-forget status line.
func (c *Controller) say(ctx context.Context, chat, text string) {
	if _, err := c.notifier.Notify(ctx, chat, text); err != nil {
		slog.Warn("notify", "chat", chat, "error", err)
	}
}

func (c *Controller) progressFunc(chat string, head *media.Item) func(fetch.Progress) {
	return func(p fetch.Progress) {
		if head.MessageRef == "" {
			return
		}
		text := "Downloading " + head.Title + ": " + utils.FormatSize(p.Downloaded)
		if p.Total > 0 {
			text += " / " + utils.FormatSize(p.Total)
		}
		if err := c.notifier.Edit(context.Background(), head.MessageRef, text); err != nil {
			slog.Debug("progress edit", "chat", chat, "error", err)
		}
	}
}
