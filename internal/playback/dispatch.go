package playback

import (
	"context"
	"log/slog"
	"sync"
)

// workerQueueDepth bounds the number of jobs buffered per chat. Handlers
// never block on network transfers, so the buffer only absorbs bursts.
const workerQueueDepth = 64

// dispatcher serializes work per chat. Every mutation of a chat's
// session runs on that chat's worker goroutine, so handlers never race
// with each other; different chats proceed independently.
type dispatcher struct {
	mu      sync.Mutex
	workers map[string]*chatWorker
	quit    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

type chatWorker struct {
	jobs chan func()
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		workers: make(map[string]*chatWorker),
		quit:    make(chan struct{}),
	}
}

func (d *dispatcher) worker(chat string) *chatWorker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	w, ok := d.workers[chat]
	if !ok {
		w = &chatWorker{jobs: make(chan func(), workerQueueDepth)}
		d.workers[chat] = w
		d.wg.Add(1)
		go d.run(chat, w)
	}
	return w
}

func (d *dispatcher) run(chat string, w *chatWorker) {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case fn := <-w.jobs:
			d.invoke(chat, fn)
		}
	}
}

func (d *dispatcher) invoke(chat string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in chat worker", "chat", chat, "panic", r)
		}
	}()
	fn()
}

// Submit enqueues fn on the chat's worker. It reports false when the
// dispatcher is shut down.
func (d *dispatcher) Submit(chat string, fn func()) bool {
	w := d.worker(chat)
	if w == nil {
		return false
	}
	select {
	case w.jobs <- fn:
		return true
	case <-d.quit:
		return false
	}
}

// Do runs fn on the chat's worker and waits for its result. The ctx
// only bounds the wait; a job that already started keeps running.
func (d *dispatcher) Do(ctx context.Context, chat string, fn func() error) error {
	errc := make(chan error, 1)
	if !d.Submit(chat, func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.quit)
	d.mu.Unlock()
	d.wg.Wait()
}
