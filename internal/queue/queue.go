// Package queue holds the per-chat FIFO of requested media items.
// Queues are purely in-memory: they start empty for an unseen chat and
// are not reconstructed after a restart.
package queue

import (
	"errors"
	"sync"

	"github.com/fallenassoc/anonplay/internal/media"
)

var ErrQueueFull = errors.New("queue is full")

type Queues struct {
	mu    sync.Mutex
	limit int
	chats map[string][]*media.Item
}

// New creates the queue container. limit caps per-chat queue length;
// limit <= 0 means unlimited.
func New(limit int) *Queues {
	return &Queues{
		limit: limit,
		chats: make(map[string][]*media.Item),
	}
}

// Add appends item and returns its queue position (0 is the head).
// An add beyond the limit is rejected, never truncated.
func (q *Queues) Add(chat string, item *media.Item) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur := q.chats[chat]
	if q.limit > 0 && len(cur) >= q.limit {
		return 0, ErrQueueFull
	}
	q.chats[chat] = append(cur, item)
	return len(q.chats[chat]) - 1, nil
}

// ForceAdd inserts item at the head. removeAt >= 0 additionally drops
// the entry at that offset of the pre-insert queue, preserving the
// relative order of everything else ("play now" semantics).
func (q *Queues) ForceAdd(chat string, item *media.Item, removeAt int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur := q.chats[chat]
	if removeAt >= 0 && removeAt < len(cur) {
		cur = append(cur[:removeAt], cur[removeAt+1:]...)
	}
	q.chats[chat] = append([]*media.Item{item}, cur...)
}

// Current returns the head without removing it.
func (q *Queues) Current(chat string) *media.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur := q.chats[chat]; len(cur) > 0 {
		return cur[0]
	}
	return nil
}

// Next pops the head and returns the new head. With peek set it returns
// the second entry without mutating the queue.
func (q *Queues) Next(chat string, peek bool) *media.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur := q.chats[chat]
	if len(cur) == 0 {
		return nil
	}
	if peek {
		if len(cur) > 1 {
			return cur[1]
		}
		return nil
	}
	cur = cur[1:]
	q.chats[chat] = cur
	if len(cur) == 0 {
		delete(q.chats, chat)
		return nil
	}
	return cur[0]
}

// RemoveCurrent drops the head, if any.
func (q *Queues) RemoveCurrent(chat string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur := q.chats[chat]
	if len(cur) == 0 {
		return
	}
	if len(cur) == 1 {
		delete(q.chats, chat)
		return
	}
	q.chats[chat] = cur[1:]
}

func (q *Queues) Clear(chat string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.chats, chat)
}

// Snapshot returns a copy of the chat's queue in play order.
func (q *Queues) Snapshot(chat string) []*media.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	cur := q.chats[chat]
	if len(cur) == 0 {
		return nil
	}
	out := make([]*media.Item, len(cur))
	copy(out, cur)
	return out
}

func (q *Queues) Len(chat string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chats[chat])
}
