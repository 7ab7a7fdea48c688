package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fallenassoc/anonplay/internal/backend"
	"github.com/fallenassoc/anonplay/internal/config"
	"github.com/fallenassoc/anonplay/internal/fetch"
	"github.com/fallenassoc/anonplay/internal/media"
	"github.com/fallenassoc/anonplay/internal/queue"
)

type memStore struct {
	mu     sync.Mutex
	active map[string]bool
}

func newMemStore() *memStore { return &memStore{active: make(map[string]bool)} }

func (s *memStore) GetActiveFlag(_ context.Context, chat string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[chat], nil
}

func (s *memStore) SetActiveFlag(_ context.Context, chat string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[chat] = v
	return nil
}

type fakeConn struct {
	mu       sync.Mutex
	joins    []backend.JoinOpts
	paths    []string
	joinErrs []error
	paused   int
	resumed  int
	left     int
}

func (c *fakeConn) Join(_ context.Context, _ string, path string, opts backend.JoinOpts) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joins = append(c.joins, opts)
	c.paths = append(c.paths, path)
	if len(c.joinErrs) > 0 {
		err := c.joinErrs[0]
		c.joinErrs = c.joinErrs[1:]
		return err
	}
	return nil
}

func (c *fakeConn) Pause(string) error  { c.mu.Lock(); defer c.mu.Unlock(); c.paused++; return nil }
func (c *fakeConn) Resume(string) error { c.mu.Lock(); defer c.mu.Unlock(); c.resumed++; return nil }
func (c *fakeConn) Leave(string) error  { c.mu.Lock(); defer c.mu.Unlock(); c.left++; return nil }
func (c *fakeConn) Latency() time.Duration { return 0 }

func (c *fakeConn) joinCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.joins)
}

func (c *fakeConn) leftCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}

type fakePool struct {
	mu       sync.Mutex
	conn     *fakeConn
	err      error
	resolves int
}

func (p *fakePool) Resolve(context.Context, string) (backend.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolves++
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

func (p *fakePool) resolveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolves
}

type fakeFetcher struct {
	mu       sync.Mutex
	fetched  []string
	canceled []string
	fail     map[string]error
	// Fetch on a blocked id waits until Cancel closes the channel and
	// then reports context.Canceled.
	block map[string]chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		fail:  make(map[string]error),
		block: make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, id string, _ bool, _ func(fetch.Progress)) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	ch := f.block[id]
	err, failed := f.fail[id]
	f.mu.Unlock()
	if ch != nil {
		<-ch
		return "", context.Canceled
	}
	if failed {
		return "", err
	}
	return "/artifacts/" + id, nil
}

func (f *fakeFetcher) Cancel(id string, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	if ch, ok := f.block[id]; ok {
		close(ch)
		delete(f.block, id)
	}
}

func (f *fakeFetcher) fetchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	next    int
	notices []string
	edits   []string
	deletes []string
}

func (n *fakeNotifier) Notify(_ context.Context, _, content string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	n.notices = append(n.notices, content)
	return fmt.Sprintf("msg-%d", n.next), nil
}

func (n *fakeNotifier) Edit(_ context.Context, _, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edits = append(n.edits, content)
	return nil
}

func (n *fakeNotifier) Delete(_ context.Context, handle string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deletes = append(n.deletes, handle)
	return nil
}

func (n *fakeNotifier) lastNotice() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return ""
	}
	return n.notices[len(n.notices)-1]
}

type fakeResolver struct {
	results   map[string]*media.Descriptor
	playlists map[string][]media.Descriptor
}

func (r *fakeResolver) Search(_ context.Context, q string) (*media.Descriptor, error) {
	return r.results[q], nil
}

func (r *fakeResolver) ResolvePlaylist(_ context.Context, url string, limit int) ([]media.Descriptor, error) {
	descs := r.playlists[url]
	if len(descs) > limit {
		descs = descs[:limit]
	}
	return descs, nil
}

type fixture struct {
	ctrl     *Controller
	store    *memStore
	conn     *fakeConn
	pool     *fakePool
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	resolver *fakeResolver
	queues   *queue.Queues
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{QueueLimit: 20, PlaylistLimit: 20, DurationLimitSec: 3600}
	f := &fixture{
		store:   newMemStore(),
		conn:    &fakeConn{},
		fetcher: newFakeFetcher(),
		notifier: &fakeNotifier{},
		resolver: &fakeResolver{
			results:   make(map[string]*media.Descriptor),
			playlists: make(map[string][]media.Descriptor),
		},
		queues: queue.New(cfg.QueueLimit),
	}
	f.pool = &fakePool{conn: f.conn}
	f.ctrl = NewController(cfg, f.store, f.queues, f.pool, f.fetcher, f.resolver, f.notifier, nil)
	t.Cleanup(f.ctrl.Close)
	return f
}

func (f *fixture) addResult(id, title string, dur int) {
	f.resolver.results[title] = &media.Descriptor{ID: id, Title: title, DurationSec: dur, URL: "https://example.test/" + id}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPlayStartsWhenIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)

	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song", RequestedBy: "alice"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := f.ctrl.State("chat1"); got != StatePlaying {
		t.Fatalf("state = %v, want playing", got)
	}
	if f.conn.joinCount() != 1 {
		t.Fatalf("join count = %d, want 1", f.conn.joinCount())
	}
	if f.conn.paths[0] != "/artifacts/aaa" {
		t.Fatalf("joined with path %q", f.conn.paths[0])
	}
	if active, _ := f.store.GetActiveFlag(ctx, "chat1"); !active {
		t.Fatal("active flag not persisted")
	}
}

func TestPlayQueuesWhenActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	f.addResult("bbb", "second song", 200)

	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "second song"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if f.conn.joinCount() != 1 {
		t.Fatalf("join count = %d, want 1 (second play must only queue)", f.conn.joinCount())
	}
	if got := f.queues.Len("chat1"); got != 2 {
		t.Fatalf("queue len = %d, want 2", got)
	}
	if !strings.Contains(f.notifier.lastNotice(), "Queued at position 2") {
		t.Fatalf("notice = %q, want queued-at-position", f.notifier.lastNotice())
	}
}

func TestSkipAdvancesAndDropsHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	f.addResult("bbb", "second song", 200)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "second song"}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.Skip(ctx, "chat1"); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	head := f.queues.Current("chat1")
	if head == nil || head.ID != "bbb" {
		t.Fatalf("head after skip = %+v, want bbb", head)
	}
	if f.queues.Len("chat1") != 1 {
		t.Fatalf("queue len = %d, want 1", f.queues.Len("chat1"))
	}
	if f.conn.joinCount() != 2 {
		t.Fatalf("join count = %d, want 2", f.conn.joinCount())
	}
}

func TestSkipWithoutSession(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Skip(context.Background(), "chat1"); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("Skip on idle chat = %v, want ErrNotPlaying", err)
	}
}

func TestStreamEndedEventAdvancesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	f.addResult("bbb", "second song", 200)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "second song"}); err != nil {
		t.Fatal(err)
	}

	bridge := NewBridge(f.ctrl)
	events := make(chan backend.Event, 1)
	done := make(chan struct{})
	go func() { bridge.Run(ctx, events); close(done) }()
	events <- backend.Event{Kind: backend.EventStreamEnded, Chat: "chat1"}
	close(events)
	<-done

	waitFor(t, func() bool {
		head := f.queues.Current("chat1")
		return head != nil && head.ID == "bbb"
	})
	waitFor(t, func() bool { return f.conn.joinCount() == 2 })
	if f.queues.Len("chat1") != 1 {
		t.Fatalf("queue len = %d, want 1", f.queues.Len("chat1"))
	}
}

func TestChatClosedEventStopsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}

	bridge := NewBridge(f.ctrl)
	events := make(chan backend.Event, 1)
	done := make(chan struct{})
	go func() { bridge.Run(ctx, events); close(done) }()
	events <- backend.Event{Kind: backend.EventChatClosed, Chat: "chat1"}
	close(events)
	<-done

	waitFor(t, func() bool {
		active, _ := f.store.GetActiveFlag(ctx, "chat1")
		return !active && f.queues.Len("chat1") == 0
	})
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := f.ctrl.Stop(ctx, "chat1"); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
	if f.queues.Len("chat1") != 0 {
		t.Fatal("queue not cleared")
	}
	if active, _ := f.store.GetActiveFlag(ctx, "chat1"); active {
		t.Fatal("active flag still set")
	}
	if got := f.ctrl.State("chat1"); got != StateEnded {
		t.Fatalf("state = %v, want ended", got)
	}
}

func TestFetchFailureSkipsToNextPlayable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	f.addResult("bbb", "broken song", 200)
	f.addResult("ccc", "third song", 220)
	f.fetcher.fail["bbb"] = errors.New("transfer exploded")

	for _, q := range []string{"first song", "broken song", "third song"} {
		if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: q}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.ctrl.Skip(ctx, "chat1"); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	head := f.queues.Current("chat1")
	if head == nil || head.ID != "ccc" {
		t.Fatalf("head = %+v, want ccc (failed item dropped)", head)
	}
	if got := f.ctrl.State("chat1"); got != StatePlaying {
		t.Fatalf("state = %v, want playing", got)
	}
	found := false
	for _, n := range f.notifier.notices {
		if strings.Contains(n, "Download failed") {
			found = true
		}
	}
	if !found {
		t.Fatal("no download-failed notice")
	}
}

func TestFetchFailureOnLastItemEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	f.addResult("bbb", "broken song", 200)
	f.fetcher.fail["bbb"] = errors.New("transfer exploded")

	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "broken song"}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Skip(ctx, "chat1"); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if active, _ := f.store.GetActiveFlag(ctx, "chat1"); active {
		t.Fatal("session should have ended after the last fetch failure")
	}
	if got := f.ctrl.State("chat1"); got != StateEnded {
		t.Fatalf("state = %v, want ended", got)
	}
}

func TestJoinErrorAdvancesToNextItem(t *testing.T) {
	for _, joinErr := range []error{backend.ErrFileNotFound, backend.ErrNoAudioSource} {
		t.Run(joinErr.Error(), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.addResult("aaa", "first song", 180)
			f.addResult("bbb", "second song", 200)
			f.conn.joinErrs = []error{joinErr}

			// Seed the queue before starting so the failed head has a
			// successor.
			f.queues.Add("chat1", &media.Item{ID: "aaa", Title: "first song"})
			f.queues.Add("chat1", &media.Item{ID: "bbb", Title: "second song"})
			if err := f.ctrl.PlayNow(ctx, "chat1", f.queues.Current("chat1"), 0); err != nil {
				t.Fatalf("PlayNow: %v", err)
			}

			head := f.queues.Current("chat1")
			if head == nil || head.ID != "bbb" {
				t.Fatalf("head = %+v, want bbb", head)
			}
			if got := f.ctrl.State("chat1"); got != StatePlaying {
				t.Fatalf("state = %v, want playing", got)
			}
		})
	}
}

func TestJoinErrorStopsSession(t *testing.T) {
	for _, joinErr := range []error{backend.ErrNoActiveCall, errors.New("stream server down")} {
		t.Run(joinErr.Error(), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.addResult("aaa", "first song", 180)
			f.conn.joinErrs = []error{joinErr}

			if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
				t.Fatalf("Play: %v", err)
			}
			if active, _ := f.store.GetActiveFlag(ctx, "chat1"); active {
				t.Fatal("session must not stay active")
			}
			if got := f.ctrl.State("chat1"); got != StateEnded {
				t.Fatalf("state = %v, want ended", got)
			}
		})
	}
}

func TestPlayNowForceInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		f.queues.Add("chat1", &media.Item{ID: id, Title: id, Path: "/artifacts/" + id})
	}

	w := &media.Item{ID: "w", Title: "w", Path: "/artifacts/w"}
	if err := f.ctrl.PlayNow(ctx, "chat1", w, 1); err != nil {
		t.Fatalf("PlayNow: %v", err)
	}

	snap := f.queues.Snapshot("chat1")
	got := make([]string, len(snap))
	for i, it := range snap {
		got[i] = it.ID
	}
	want := []string{"w", "x", "z"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("queue = %v, want %v", got, want)
		}
	}
	if f.conn.paths[len(f.conn.paths)-1] != "/artifacts/w" {
		t.Fatalf("joined %q, want w's artifact", f.conn.paths[len(f.conn.paths)-1])
	}
}

func TestReplaySeeksWithoutDequeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.Replay(ctx, "chat1", 42); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if f.conn.joinCount() != 2 {
		t.Fatalf("join count = %d, want 2", f.conn.joinCount())
	}
	last := f.conn.joins[1]
	if last.StartOffsetSec != 42 {
		t.Fatalf("seek offset = %d, want 42", last.StartOffsetSec)
	}
	if f.queues.Len("chat1") != 1 {
		t.Fatal("replay must not dequeue")
	}
	head := f.queues.Current("chat1")
	if head.ElapsedSec != 42 {
		t.Fatalf("elapsed = %d, want 42", head.ElapsedSec)
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.Pause(ctx, "chat1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := f.ctrl.State("chat1"); got != StatePaused {
		t.Fatalf("state = %v, want paused", got)
	}
	if err := f.ctrl.Pause(ctx, "chat1"); !errors.Is(err, ErrAlreadyPaused) {
		t.Fatalf("second Pause = %v, want ErrAlreadyPaused", err)
	}
	if err := f.ctrl.Resume(ctx, "chat1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := f.ctrl.State("chat1"); got != StatePlaying {
		t.Fatalf("state = %v, want playing", got)
	}
	if f.conn.paused != 1 || f.conn.resumed != 1 {
		t.Fatalf("pause/resume relayed %d/%d times", f.conn.paused, f.conn.resumed)
	}
}

func TestDurationLimitRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "endless mix", 4*3600)

	err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "endless mix"})
	if !errors.Is(err, ErrDurationLimit) {
		t.Fatalf("Play = %v, want ErrDurationLimit", err)
	}
	if f.queues.Len("chat1") != 0 {
		t.Fatal("rejected item must not be queued")
	}
	if got := f.ctrl.State("chat1"); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestNoResults(t *testing.T) {
	f := newFixture(t)
	err := f.ctrl.Play(context.Background(), "chat1", PlayRequest{Query: "no such thing"})
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("Play = %v, want ErrNoResults", err)
	}
}

func TestChatsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	f.addResult("bbb", "second song", 200)

	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Play(ctx, "chat2", PlayRequest{Query: "second song"}); err != nil {
		t.Fatal(err)
	}
	if f.conn.joinCount() != 2 {
		t.Fatalf("join count = %d, want one start per chat", f.conn.joinCount())
	}
	if err := f.ctrl.Stop(ctx, "chat1"); err != nil {
		t.Fatal(err)
	}
	if active, _ := f.store.GetActiveFlag(ctx, "chat2"); !active {
		t.Fatal("stopping chat1 must not touch chat2")
	}
}

func TestQueueDrainReleasesCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}

	bridge := NewBridge(f.ctrl)
	events := make(chan backend.Event, 1)
	done := make(chan struct{})
	go func() { bridge.Run(ctx, events); close(done) }()
	events <- backend.Event{Kind: backend.EventStreamEnded, Chat: "chat1"}
	close(events)
	<-done

	waitFor(t, func() bool { return f.ctrl.State("chat1") == StateEnded })
	if active, _ := f.store.GetActiveFlag(ctx, "chat1"); active {
		t.Fatal("active flag still set after drain")
	}
	if got := f.conn.leftCount(); got != 1 {
		t.Fatalf("leave count = %d, want 1 (drained session must release the call)", got)
	}
}

func TestSkipLastTrackReleasesCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.Skip(ctx, "chat1"); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if got := f.ctrl.State("chat1"); got != StateEnded {
		t.Fatalf("state = %v, want ended", got)
	}
	if got := f.conn.leftCount(); got != 1 {
		t.Fatalf("leave count = %d, want 1", got)
	}
}

func TestPlayResumesAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// The flag survived in the store; the in-memory queue did not.
	if err := f.store.SetActiveFlag(ctx, "chat1", true); err != nil {
		t.Fatal(err)
	}
	f.addResult("aaa", "first song", 180)

	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := f.conn.joinCount(); got != 1 {
		t.Fatalf("join count = %d, want 1 (request must resume, not queue)", got)
	}
	if got := f.ctrl.State("chat1"); got != StatePlaying {
		t.Fatalf("state = %v, want playing", got)
	}
	head := f.queues.Current("chat1")
	if head == nil || head.ID != "aaa" {
		t.Fatalf("head = %+v, want aaa", head)
	}
}

func TestStopIdleChatLeavesPoolAlone(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Stop(context.Background(), "chat1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.pool.resolveCount(); got != 0 {
		t.Fatalf("pool resolved %d times for a chat that never played", got)
	}
	if got := f.conn.leftCount(); got != 0 {
		t.Fatalf("leave count = %d, want 0", got)
	}
}

func TestForeignCancelSkipsHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	f.addResult("bbb", "shared song", 200)
	f.addResult("ccc", "third song", 220)
	// Another chat cancelled the transfer this chat was attached to.
	f.fetcher.fail["bbb"] = context.Canceled

	for _, q := range []string{"first song", "shared song", "third song"} {
		if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: q}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.ctrl.Skip(ctx, "chat1"); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	head := f.queues.Current("chat1")
	if head == nil || head.ID != "ccc" {
		t.Fatalf("head = %+v, want ccc (cancelled head dropped)", head)
	}
	if got := f.ctrl.State("chat1"); got != StatePlaying {
		t.Fatalf("state = %v, want playing", got)
	}
}

func TestStopDuringDownloadEndsQuietly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	f.addResult("bbb", "slow song", 200)
	f.fetcher.block["bbb"] = make(chan struct{})

	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "slow song"}); err != nil {
		t.Fatal(err)
	}

	skipErr := make(chan error, 1)
	go func() { skipErr <- f.ctrl.Skip(ctx, "chat1") }()
	waitFor(t, func() bool {
		for _, id := range f.fetcher.fetchedIDs() {
			if id == "bbb" {
				return true
			}
		}
		return false
	})

	if err := f.ctrl.Stop(ctx, "chat1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-skipErr; err != nil {
		t.Fatalf("Skip unwound with %v, want nil", err)
	}
	if got := f.ctrl.State("chat1"); got != StateEnded {
		t.Fatalf("state = %v, want ended", got)
	}
	if f.queues.Len("chat1") != 0 {
		t.Fatal("queue not cleared")
	}
}

func TestVideoRequestGatedByConfig(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("videoPlay=%t", enabled), func(t *testing.T) {
			f := newFixture(t)
			f.ctrl.cfg.VideoPlay = enabled
			f.addResult("aaa", "first song", 180)

			if err := f.ctrl.Play(context.Background(), "chat1", PlayRequest{Query: "first song", Video: true}); err != nil {
				t.Fatal(err)
			}
			if got := f.conn.joins[0].Video; got != enabled {
				t.Fatalf("joined with video=%t, want %t", got, enabled)
			}
		})
	}
}

func TestTickElapsedOnlyWhilePlaying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addResult("aaa", "first song", 180)
	if err := f.ctrl.Play(ctx, "chat1", PlayRequest{Query: "first song"}); err != nil {
		t.Fatal(err)
	}

	f.ctrl.TickElapsed()
	waitFor(t, func() bool { return f.queues.Current("chat1").ElapsedSec == 1 })

	if err := f.ctrl.Pause(ctx, "chat1"); err != nil {
		t.Fatal(err)
	}
	f.ctrl.TickElapsed()
	// Flush the worker so a stale tick cannot land later.
	if err := f.ctrl.disp.Do(ctx, "chat1", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if got := f.queues.Current("chat1").ElapsedSec; got != 1 {
		t.Fatalf("elapsed advanced while paused: %d", got)
	}
}
