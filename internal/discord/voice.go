package discord

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/fallenassoc/anonplay/internal/stream"
)

// voiceSession pumps Opus packets from one transcoder into one voice
// connection, paced at the 20 ms frame rate.
type voiceSession struct {
	vc     *discordgo.VoiceConnection
	tc     *stream.Transcoder
	paused atomic.Bool

	cancel   context.CancelFunc
	ctx      context.Context
	stopOnce sync.Once
	done     chan struct{}
}

func newVoiceSession(vc *discordgo.VoiceConnection, tc *stream.Transcoder) *voiceSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &voiceSession{
		vc:     vc,
		tc:     tc,
		cancel: cancel,
		ctx:    ctx,
		done:   make(chan struct{}),
	}
}

func (v *voiceSession) setPaused(p bool) { v.paused.Store(p) }

// stop ends the send loop and returns the voice connection for the
// caller to disconnect.
func (v *voiceSession) stop() *discordgo.VoiceConnection {
	v.stopOnce.Do(v.cancel)
	<-v.done
	return v.vc
}

// run drives the send loop until the stream drains or stop is called.
// It reports whether the stream ended naturally.
func (v *voiceSession) run() bool {
	defer close(v.done)
	defer v.tc.Close()

	if !v.waitReady() {
		return false
	}
	_ = v.vc.Speaking(true)
	defer v.vc.Speaking(false)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return false
		case <-ticker.C:
		}
		if v.paused.Load() {
			continue
		}

		pkt, err := v.tc.NextPacket()
		if err != nil {
			return errors.Is(err, io.EOF)
		}

		select {
		case <-v.ctx.Done():
			return false
		case v.vc.OpusSend <- pkt:
		case <-time.After(200 * time.Millisecond):
			// Gateway stalled; skip the frame rather than block the loop.
		}
	}
}

func (v *voiceSession) waitReady() bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v.vc != nil && v.vc.Ready && v.vc.OpusSend != nil {
			return true
		}
		select {
		case <-v.ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return false
}
