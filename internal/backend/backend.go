// Package backend defines the contracts between the playback core and
// the streaming layer: one Conn per pooled assistant account, and the
// lifecycle events the assistants emit.
package backend

import (
	"context"
	"errors"
	"time"
)

// Errors a Conn may return from Join. The playback controller maps each
// of these to a distinct action (advance vs. stop), so adapters must
// return these sentinels rather than generic failures.
var (
	ErrNoActiveCall   = errors.New("no active call")
	ErrNoAudioSource  = errors.New("no audio source in file")
	ErrConnectionLost = errors.New("connection lost")
	ErrFileNotFound   = errors.New("artifact file not found")

	// ErrNoAssistants is returned by the pool when no connection slots
	// are configured.
	ErrNoAssistants = errors.New("no assistants available")
)

type JoinOpts struct {
	Video bool
	// StartOffsetSec > 0 restarts the stream mid-file (replay/seek).
	StartOffsetSec int
}

// Conn is one streaming-capable connection slot. A single Conn serves
// many chats concurrently, one call each.
type Conn interface {
	Join(ctx context.Context, chat string, path string, opts JoinOpts) error
	Pause(chat string) error
	Resume(chat string) error
	Leave(chat string) error

	// Latency is the slot's current aggregate latency sample.
	Latency() time.Duration
}

type EventKind int

const (
	// EventStreamEnded fires when the current stream for a chat played
	// to completion.
	EventStreamEnded EventKind = iota
	// EventChatClosed fires when the assistant was kicked, left, or the
	// call was closed out from under it.
	EventChatClosed
)

func (k EventKind) String() string {
	switch k {
	case EventStreamEnded:
		return "stream_ended"
	case EventChatClosed:
		return "chat_closed"
	}
	return "unknown"
}

type Event struct {
	Kind EventKind
	Chat string
}
