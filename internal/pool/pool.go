// Package pool owns the sticky chat-to-assistant assignment. A chat is
// bound to one connection slot for its lifetime; the binding survives
// session teardown and process restarts via the persistent store.
package pool

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/fallenassoc/anonplay/internal/backend"
)

// Store is the slice of the persistent store the pool needs.
type Store interface {
	GetAssignment(ctx context.Context, chat string) (int, bool, error)
	SetAssignment(ctx context.Context, chat string, slot int) error
}

type Pool struct {
	store Store
	slots []backend.Conn

	mu    sync.Mutex
	cache map[string]int
}

func New(store Store, slots []backend.Conn) *Pool {
	return &Pool{
		store: store,
		slots: slots,
		cache: make(map[string]int),
	}
}

func (p *Pool) Size() int { return len(p.slots) }

// Assign returns the chat's slot index, choosing and persisting a
// uniformly random one on first use. Random assignment spreads chats
// roughly evenly without tracking live per-slot load.
func (p *Pool) Assign(ctx context.Context, chat string) (int, error) {
	if len(p.slots) == 0 {
		return 0, backend.ErrNoAssistants
	}

	p.mu.Lock()
	if slot, ok := p.cache[chat]; ok {
		p.mu.Unlock()
		return slot, nil
	}
	p.mu.Unlock()

	slot, ok, err := p.store.GetAssignment(ctx, chat)
	if err != nil {
		return 0, err
	}
	if ok && slot >= 0 && slot < len(p.slots) {
		p.mu.Lock()
		p.cache[chat] = slot
		p.mu.Unlock()
		return slot, nil
	}
	if ok {
		// Persisted slot predates a pool shrink; pick fresh.
		slog.Warn("persisted assignment out of range, reassigning", "chatID", chat, "slot", slot, "pool", len(p.slots))
	}
	return p.Reassign(ctx, chat)
}

// Reassign discards any existing binding and persists a new random one.
func (p *Pool) Reassign(ctx context.Context, chat string) (int, error) {
	if len(p.slots) == 0 {
		return 0, backend.ErrNoAssistants
	}
	slot := rand.IntN(len(p.slots))
	if err := p.store.SetAssignment(ctx, chat, slot); err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.cache[chat] = slot
	p.mu.Unlock()
	return slot, nil
}

// Resolve returns the live connection for the chat's assigned slot.
func (p *Pool) Resolve(ctx context.Context, chat string) (backend.Conn, error) {
	slot, err := p.Assign(ctx, chat)
	if err != nil {
		return nil, err
	}
	return p.slots[slot], nil
}

// Ping is the mean latency across all slots.
func (p *Pool) Ping() time.Duration {
	if len(p.slots) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range p.slots {
		total += s.Latency()
	}
	return total / time.Duration(len(p.slots))
}
