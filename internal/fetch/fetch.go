// Package fetch retrieves media artifacts by content id. For any id at
// most one transfer runs system-wide; concurrent requesters attach to
// the in-flight task and observe the same outcome. Transfers run on
// their own goroutines, off the per-chat dispatch path.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fallenassoc/anonplay/internal/metrics"
)

type Progress struct {
	Downloaded int64
	Total      int64
}

// Transport performs the actual transfer. cred is an opaque credential
// (a cookie file path for the yt-dlp transport); it may be empty.
// Cancellation of ctx must be observed promptly by the running transfer.
type Transport interface {
	Transfer(ctx context.Context, id string, video bool, cred string, progress func(Progress)) (string, error)
}

// ArtifactCache is the slice of the file cache the fetcher needs.
type ArtifactCache interface {
	Lookup(ctx context.Context, key string) (string, bool)
	Promote(ctx context.Context, key, src string) (string, error)
	Discard(src string)
}

// Credentials is a rotating pool of transfer credentials. A credential
// that fails a transfer is evicted from the rotation; there is no
// retry, eviction is the only self-healing.
type Credentials struct {
	mu    sync.Mutex
	files []string
	next  int
}

func NewCredentials(files []string) *Credentials {
	return &Credentials{files: files}
}

// LoadCredentials collects *.txt cookie files under dir. A missing dir
// yields an empty pool, which is valid: transfers then run without a
// credential.
func LoadCredentials(dir string) *Credentials {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &Credentials{}
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return &Credentials{files: files}
}

// Pick returns the next credential round-robin, or "" if none remain.
func (c *Credentials) Pick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.files) == 0 {
		return ""
	}
	cred := c.files[c.next%len(c.files)]
	c.next++
	return cred
}

func (c *Credentials) Evict(cred string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.files {
		if f == cred {
			c.files = append(c.files[:i], c.files[i+1:]...)
			return
		}
	}
}

func (c *Credentials) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	path   string
	err    error
}

type Fetcher struct {
	transport Transport
	cache     ArtifactCache
	creds     *Credentials
	interval  time.Duration
	met       *metrics.Metrics

	mu    sync.Mutex
	tasks map[string]*task
}

func New(transport Transport, cache ArtifactCache, creds *Credentials, interval time.Duration, met *metrics.Metrics) *Fetcher {
	return &Fetcher{
		transport: transport,
		cache:     cache,
		creds:     creds,
		interval:  interval,
		met:       met,
		tasks:     make(map[string]*task),
	}
}

func artifactKey(id string, video bool) string {
	if video {
		return id + ":video"
	}
	return id + ":audio"
}

// Fetch returns the local artifact path for id, transferring it if it is
// not cached. Only the caller that starts the transfer receives progress
// callbacks; attachers just wait for the shared outcome. Progress is
// reported at most once per configured interval.
func (f *Fetcher) Fetch(ctx context.Context, id string, video bool, progress func(Progress)) (string, error) {
	key := artifactKey(id, video)
	if path, ok := f.cache.Lookup(ctx, key); ok {
		return path, nil
	}

	f.mu.Lock()
	if t, ok := f.tasks[key]; ok {
		f.mu.Unlock()
		f.met.FetchesDeduped.Inc()
		return f.wait(ctx, t)
	}

	// The task context is detached from the first caller: every
	// requester must observe the same outcome even if the one that
	// started the transfer goes away.
	tctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	f.tasks[key] = t
	f.mu.Unlock()

	f.met.FetchesStarted.Inc()
	go f.run(tctx, t, id, video, key, f.throttle(progress))

	return f.wait(ctx, t)
}

// Cancel signals the in-flight transfer for the artifact to stop. It is
// a no-op when nothing is in flight, and calling it repeatedly is safe.
// Audio and video artifacts of the same id are independent transfers.
func (f *Fetcher) Cancel(id string, video bool) {
	f.mu.Lock()
	t, ok := f.tasks[artifactKey(id, video)]
	f.mu.Unlock()
	if ok {
		t.cancel()
	}
}

func (f *Fetcher) wait(ctx context.Context, t *task) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
		return t.path, t.err
	}
}

func (f *Fetcher) run(ctx context.Context, t *task, id string, video bool, key string, progress func(Progress)) {
	defer t.cancel()

	cred := f.creds.Pick()
	src, err := f.transport.Transfer(ctx, id, video, cred, progress)

	var path string
	if err == nil {
		// Promotion must not be aborted by a late cancel.
		path, err = f.cache.Promote(context.WithoutCancel(ctx), key, src)
	}
	if err != nil {
		f.cache.Discard(src)
		if errors.Is(err, context.Canceled) {
			f.met.FetchCancels.Inc()
			slog.Info("fetch cancelled", "id", id)
		} else {
			f.met.FetchFailures.Inc()
			if cred != "" {
				f.creds.Evict(cred)
				f.met.CredentialEvictions.Inc()
				slog.Warn("fetch failed, credential evicted", "id", id, "err", err)
			} else {
				slog.Warn("fetch failed", "id", id, "err", err)
			}
		}
	}

	f.mu.Lock()
	delete(f.tasks, key)
	t.path, t.err = path, err
	f.mu.Unlock()
	close(t.done)
}

// throttle bounds progress reporting to one callback per interval. The
// returned func is only ever called from the transfer goroutine.
func (f *Fetcher) throttle(fn func(Progress)) func(Progress) {
	if fn == nil {
		return nil
	}
	var last time.Time
	return func(p Progress) {
		now := time.Now()
		if now.Sub(last) < f.interval {
			return
		}
		last = now
		fn(p)
	}
}
