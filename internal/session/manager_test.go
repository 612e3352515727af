package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("abc123", "https://example.com/watch?v=abc123", "720p", "mp4")

	if s.ID == "" {
		t.Fatal("expected generated session id")
	}
	if s.Status != StatusWaiting {
		t.Errorf("expected waiting, got %s", s.Status)
	}
	got, ok := m.Get(s.ID)
	if !ok {
		t.Fatal("expected session to be retrievable")
	}
	if got.VideoID != "abc123" || got.Quality != "720p" || got.Format != "mp4" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
	if _, ok := m.Get("nope"); ok {
		t.Error("expected miss for unknown id")
	}
}

func TestApplyProgress_OnlyWhileDownloading(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")

	m.ApplyProgress(s.ID, 50, "1MiB/s", "00:10", "10MiB", "5MiB")
	if got, _ := m.Get(s.ID); got.Progress != 0 {
		t.Errorf("progress applied while waiting: %f", got.Progress)
	}

	m.SetDownloading(s.ID)
	m.ApplyProgress(s.ID, 50, "1MiB/s", "00:10", "10MiB", "5MiB")
	if got, _ := m.Get(s.ID); got.Progress != 50 || got.Rate != "1MiB/s" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}

func TestApplyProgress_NeverMovesBackwards(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")
	m.SetDownloading(s.ID)

	m.ApplyProgress(s.ID, 80, "", "", "", "")
	m.ApplyProgress(s.ID, 10, "2MiB/s", "", "", "")

	got, _ := m.Get(s.ID)
	if got.Progress != 80 {
		t.Errorf("progress regressed to %f", got.Progress)
	}
	// Non-percentage fields still refresh.
	if got.Rate != "2MiB/s" {
		t.Errorf("rate not updated: %q", got.Rate)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")
	m.SetDownloading(s.ID)
	m.Complete(s.ID, "/tmp/out.mp4")

	m.Fail(s.ID, "late failure")
	got, _ := m.Get(s.ID)
	if got.Status != StatusCompleted || got.Error != "" {
		t.Errorf("terminal state mutated: %+v", got)
	}
	if got.Progress != 100 {
		t.Errorf("expected forced 100%% on completion, got %f", got.Progress)
	}

	m.ApplyProgress(s.ID, 99, "", "", "", "")
	if got, _ := m.Get(s.ID); got.Progress != 100 {
		t.Errorf("progress changed after completion: %f", got.Progress)
	}
}

func TestSubscribe_ImmediateSnapshot(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")

	ch, cancel, ok := m.Subscribe(s.ID, 4)
	if !ok {
		t.Fatal("expected subscription to succeed")
	}
	defer cancel()

	select {
	case snap := <-ch:
		if snap.Status != StatusWaiting {
			t.Errorf("expected waiting snapshot, got %s", snap.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no immediate snapshot")
	}
}

func TestSubscribe_UnknownSession(t *testing.T) {
	m := NewManager(nil)
	if _, _, ok := m.Subscribe("missing", 4); ok {
		t.Error("expected subscribe to report a missing session")
	}
}

func TestSubscribe_SaturatedKeepsLatest(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")
	m.SetDownloading(s.ID)

	ch, cancel, _ := m.Subscribe(s.ID, 1)
	defer cancel()

	// Buffer holds the immediate snapshot; further updates must displace it
	// rather than block or get dropped in favor of stale state.
	m.ApplyProgress(s.ID, 10, "", "", "", "")
	m.ApplyProgress(s.ID, 20, "", "", "", "")

	snap := <-ch
	if snap.Progress != 20 {
		t.Errorf("expected latest snapshot (20), got %f", snap.Progress)
	}
}

func TestSubscribeCancel_Idempotent(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")
	_, cancel, _ := m.Subscribe(s.ID, 4)
	cancel()
	cancel()
}

func TestCleanup_RemovesFileAndClosesSubscribers(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")
	m.SetDownloading(s.ID)

	path := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.Complete(s.ID, path)

	ch, _, _ := m.Subscribe(s.ID, 4)
	m.Cleanup(s.ID)

	if _, ok := m.Get(s.ID); ok {
		t.Error("session still present after cleanup")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still present after cleanup")
	}
	// Drain any queued snapshots; channel must end up closed.
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				goto closed
			}
		case <-deadline:
			t.Fatal("subscriber channel not closed")
		}
	}
closed:

	m.Cleanup(s.ID) // no-op
}

func TestSweep(t *testing.T) {
	m := NewManager(nil)
	m.Create("a", "u1", "720p", "mp4")
	m.Create("b", "u2", "720p", "mp4")

	if n := m.Sweep(time.Hour); n != 0 {
		t.Errorf("fresh sessions swept: %d", n)
	}
	if n := m.Sweep(0); n != 2 {
		t.Errorf("expected 2 swept, got %d", n)
	}
	if m.Count() != 0 {
		t.Errorf("expected empty registry, got %d", m.Count())
	}
}

func TestSetTitle(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")

	m.SetTitle(s.ID, "My Clip")
	if got, _ := m.Get(s.ID); got.Title != "My Clip" {
		t.Errorf("title not recorded: %q", got.Title)
	}

	m.SetTitle(s.ID, "")
	if got, _ := m.Get(s.ID); got.Title != "My Clip" {
		t.Errorf("empty title overwrote: %q", got.Title)
	}

	m.SetDownloading(s.ID)
	m.Complete(s.ID, "/tmp/out.mp4")
	m.SetTitle(s.ID, "Too Late")
	if got, _ := m.Get(s.ID); got.Title != "My Clip" {
		t.Errorf("terminal session mutated: %q", got.Title)
	}
}

func TestSetTitle_BroadcastsSnapshot(t *testing.T) {
	m := NewManager(nil)
	s := m.Create("v", "u", "720p", "mp4")
	ch, cancel, _ := m.Subscribe(s.ID, 4)
	defer cancel()
	<-ch // immediate snapshot

	m.SetTitle(s.ID, "My Clip")
	select {
	case snap := <-ch:
		if snap.Title != "My Clip" {
			t.Errorf("snapshot missing title: %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after title change")
	}
}

type recordingHooks struct {
	mu       sync.Mutex
	created  []string
	titles   []string
	states   []Status
	progress []float64
	signal   chan struct{}
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{signal: make(chan struct{}, 16)}
}

func (h *recordingHooks) OnCreate(s Session) {
	h.mu.Lock()
	h.created = append(h.created, s.ID)
	h.mu.Unlock()
	h.signal <- struct{}{}
}

func (h *recordingHooks) OnTitle(sessionID, title string) {
	h.mu.Lock()
	h.titles = append(h.titles, title)
	h.mu.Unlock()
	h.signal <- struct{}{}
}

func (h *recordingHooks) OnProgress(sessionID string, progress float64) {
	h.mu.Lock()
	h.progress = append(h.progress, progress)
	h.mu.Unlock()
	h.signal <- struct{}{}
}

func (h *recordingHooks) OnStateChange(s Session) {
	h.mu.Lock()
	h.states = append(h.states, s.Status)
	h.mu.Unlock()
	h.signal <- struct{}{}
}

func (h *recordingHooks) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.signal:
		case <-time.After(time.Second):
			t.Fatalf("hook call %d/%d never arrived", i+1, n)
		}
	}
}

func TestHooks_ReceiveLifecycle(t *testing.T) {
	h := newRecordingHooks()
	m := NewManager(h)

	s := m.Create("v", "u", "720p", "mp4")
	m.SetTitle(s.ID, "My Clip")
	m.SetDownloading(s.ID)
	m.ApplyProgress(s.ID, 42, "", "", "", "")
	m.Fail(s.ID, "boom")
	h.wait(t, 5)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.created) != 1 || h.created[0] != s.ID {
		t.Errorf("unexpected create hooks: %v", h.created)
	}
	if len(h.titles) != 1 || h.titles[0] != "My Clip" {
		t.Errorf("unexpected title hooks: %v", h.titles)
	}
	if len(h.progress) != 1 || h.progress[0] != 42 {
		t.Errorf("unexpected progress hooks: %v", h.progress)
	}
	// Hooks run on their own goroutines, so only membership is guaranteed.
	seen := map[Status]bool{}
	for _, st := range h.states {
		seen[st] = true
	}
	if len(h.states) != 2 || !seen[StatusDownloading] || !seen[StatusError] {
		t.Errorf("unexpected state hooks: %v", h.states)
	}
}
