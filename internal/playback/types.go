// Package playback drives the per-chat playback state machine: it owns
// the session lifecycle, reacts to backend lifecycle events, and glues
// the queue, the assistant pool and the fetch pipeline together.
package playback

import (
	"context"

	"github.com/fallenassoc/anonplay/internal/backend"
	"github.com/fallenassoc/anonplay/internal/fetch"
	"github.com/fallenassoc/anonplay/internal/media"
)

// Store is the slice of the persistent store the controller needs. The
// active-call flag is mirrored by an in-memory read-through cache that
// only this package mutates.
type Store interface {
	GetActiveFlag(ctx context.Context, chat string) (bool, error)
	SetActiveFlag(ctx context.Context, chat string, active bool) error
}

// Notifier delivers outbound status messages. The controller calls it
// on every user-visible transition but never depends on delivery
// succeeding.
type Notifier interface {
	Notify(ctx context.Context, chat, content string) (string, error)
	Edit(ctx context.Context, handle, content string) error
	Delete(ctx context.Context, handle string) error
}

// Resolver turns queries and playlist URLs into media descriptors.
// Search returns nil when nothing matched.
type Resolver interface {
	Search(ctx context.Context, query string) (*media.Descriptor, error)
	ResolvePlaylist(ctx context.Context, url string, limit int) ([]media.Descriptor, error)
}

// Fetcher is implemented by fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, id string, video bool, progress func(fetch.Progress)) (string, error)
	Cancel(id string, video bool)
}

// Pool is implemented by pool.Pool.
type Pool interface {
	Resolve(ctx context.Context, chat string) (backend.Conn, error)
}

type State int

const (
	StateIdle State = iota
	StateResolving
	StateDownloading
	StatePlaying
	StatePaused
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateDownloading:
		return "downloading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// PlayRequest is one resolved-or-resolvable play command. Exactly one
// of Query, PlaylistURL or Upload should be set.
type PlayRequest struct {
	Query       string
	PlaylistURL string
	// Upload is a pre-resolved user-uploaded file; its Path may already
	// point at a local artifact.
	Upload      *media.Item
	Video       bool
	RequestedBy string
}
