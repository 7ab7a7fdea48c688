package playback

import (
	"context"
	"log/slog"
	"sync"
)

// callFlags is a read-through cache over the persisted active-call
// flag. The process is the only writer, so cached values stay
// authoritative for the life of the process.
type callFlags struct {
	store Store

	mu    sync.Mutex
	cache map[string]bool
}

func newCallFlags(store Store) *callFlags {
	return &callFlags{store: store, cache: make(map[string]bool)}
}

func (f *callFlags) Active(ctx context.Context, chat string) bool {
	f.mu.Lock()
	v, ok := f.cache[chat]
	f.mu.Unlock()
	if ok {
		return v
	}
	v, err := f.store.GetActiveFlag(ctx, chat)
	if err != nil {
		slog.Error("read active flag", "chat", chat, "error", err)
		return false
	}
	f.mu.Lock()
	f.cache[chat] = v
	f.mu.Unlock()
	return v
}

func (f *callFlags) SetActive(ctx context.Context, chat string, active bool) {
	f.mu.Lock()
	f.cache[chat] = active
	f.mu.Unlock()
	if err := f.store.SetActiveFlag(ctx, chat, active); err != nil {
		slog.Error("persist active flag", "chat", chat, "error", err)
	}
}
