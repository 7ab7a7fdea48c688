// Package discord connects the playback core to Discord. Each
// assistant is its own bot session holding at most one voice
// connection per guild; lifecycle events flow back on a shared channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/fallenassoc/anonplay/internal/backend"
	"github.com/fallenassoc/anonplay/internal/stream"
)

// Assistant wraps one bot session. It implements backend.Conn.
type Assistant struct {
	sess   *discordgo.Session
	events chan<- backend.Event

	mu    sync.Mutex
	calls map[string]*voiceSession
}

// Assistants owns every assistant session plus the shared event
// channel the playback bridge drains.
type Assistants struct {
	conns  []backend.Conn
	events chan backend.Event
}

func NewAssistants(tokens []string) (*Assistants, error) {
	events := make(chan backend.Event, 16)
	a := &Assistants{events: events}
	for i, token := range tokens {
		sess, err := discordgo.New("Bot " + token)
		if err != nil {
			return nil, fmt.Errorf("assistant %d: %w", i, err)
		}
		sess.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		as := &Assistant{
			sess:   sess,
			events: events,
			calls:  make(map[string]*voiceSession),
		}
		sess.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			slog.Info("assistant connected", "user", r.User.Username)
		})
		sess.AddHandler(as.onVoiceStateUpdate)
		a.conns = append(a.conns, as)
	}
	return a, nil
}

// Open brings every assistant session online.
func (a *Assistants) Open() error {
	for i, c := range a.conns {
		if err := c.(*Assistant).sess.Open(); err != nil {
			return fmt.Errorf("open assistant %d: %w", i, err)
		}
	}
	return nil
}

func (a *Assistants) Close() {
	for _, c := range a.conns {
		_ = c.(*Assistant).sess.Close()
	}
}

func (a *Assistants) Conns() []backend.Conn { return a.conns }

// Primary returns the session status messages go through.
func (a *Assistants) Primary() *discordgo.Session {
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[0].(*Assistant).sess
}

func (a *Assistants) Events() <-chan backend.Event { return a.events }

// onVoiceStateUpdate watches for the assistant itself being dropped
// from a voice channel, which ends that guild's session.
func (as *Assistant) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s.State.User == nil || vs.UserID != s.State.User.ID {
		return
	}
	if vs.ChannelID != "" {
		return
	}
	as.mu.Lock()
	_, had := as.calls[vs.GuildID]
	as.mu.Unlock()
	if !had {
		return
	}
	as.stopCall(vs.GuildID)
	select {
	case as.events <- backend.Event{Kind: backend.EventChatClosed, Chat: vs.GuildID}:
	default:
		slog.Warn("event channel full, dropping chat-closed", "chat", vs.GuildID)
	}
}

// voiceChannel picks the guild voice channel with human listeners.
func (as *Assistant) voiceChannel(chat string) (string, error) {
	g, err := as.sess.State.Guild(chat)
	if err != nil || g == nil {
		return "", backend.ErrNoActiveCall
	}
	occupied := make(map[string]int)
	for _, vs := range g.VoiceStates {
		m, err := as.sess.State.Member(chat, vs.UserID)
		if err == nil && m.User != nil && m.User.Bot {
			continue
		}
		occupied[vs.ChannelID]++
	}
	best, bestN := "", 0
	for ch, n := range occupied {
		if n > bestN {
			best, bestN = ch, n
		}
	}
	if best == "" {
		return "", backend.ErrNoActiveCall
	}
	return best, nil
}

// Join starts streaming path into the chat's voice call, replacing any
// stream already running there.
func (as *Assistant) Join(ctx context.Context, chat, path string, opts backend.JoinOpts) error {
	if _, err := os.Stat(path); err != nil {
		return backend.ErrFileNotFound
	}
	info, err := stream.Probe(path)
	if err != nil || !info.HasAudio {
		return backend.ErrNoAudioSource
	}

	channelID, err := as.voiceChannel(chat)
	if err != nil {
		return err
	}

	as.stopCall(chat)

	vc, err := as.sess.ChannelVoiceJoin(ctx, chat, channelID, false, true)
	if err != nil {
		return fmt.Errorf("%w: %v", backend.ErrConnectionLost, err)
	}
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}

	tc, err := stream.NewTranscoder(ctx, path, int64(opts.StartOffsetSec))
	if err != nil {
		as.disconnect(vc)
		return backend.ErrNoAudioSource
	}

	vs := newVoiceSession(vc, tc)
	as.mu.Lock()
	as.calls[chat] = vs
	as.mu.Unlock()

	go func() {
		// The finished session stays registered so a later Leave can
		// still disconnect the voice channel; stop on a drained session
		// returns immediately.
		natural := vs.run()
		if natural {
			select {
			case as.events <- backend.Event{Kind: backend.EventStreamEnded, Chat: chat}:
			default:
				slog.Warn("event channel full, dropping stream-ended", "chat", chat)
			}
		}
	}()
	return nil
}

func (as *Assistant) Pause(chat string) error {
	vs := as.call(chat)
	if vs == nil {
		return backend.ErrNoActiveCall
	}
	vs.setPaused(true)
	return nil
}

func (as *Assistant) Resume(chat string) error {
	vs := as.call(chat)
	if vs == nil {
		return backend.ErrNoActiveCall
	}
	vs.setPaused(false)
	return nil
}

// Leave tears down the chat's voice connection. Leaving a chat with no
// call is a no-op.
func (as *Assistant) Leave(chat string) error {
	as.stopCall(chat)
	return nil
}

func (as *Assistant) Latency() time.Duration {
	return as.sess.HeartbeatLatency()
}

func (as *Assistant) call(chat string) *voiceSession {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.calls[chat]
}

func (as *Assistant) stopCall(chat string) {
	as.mu.Lock()
	vs := as.calls[chat]
	delete(as.calls, chat)
	as.mu.Unlock()
	if vs == nil {
		return
	}
	vc := vs.stop()
	as.disconnect(vc)
}

func (as *Assistant) disconnect(vc *discordgo.VoiceConnection) {
	if vc == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("voice disconnect panic recovered", "panic", r)
		}
	}()
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	_ = vc.Speaking(false)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := vc.Disconnect(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("voice disconnect", "error", err)
	}
}
