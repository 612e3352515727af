package session

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidgrab/internal/logging"
)

// Manager is the authoritative in-memory registry of download sessions. All
// reads hand out copies; mutation goes through the state-transition methods,
// which broadcast a snapshot to subscribers.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	subs     map[string]map[chan Session]struct{}
	hooks    Hooks
}

// NewManager creates an empty Manager. hooks may be nil.
func NewManager(hooks Hooks) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		subs:     make(map[string]map[chan Session]struct{}),
		hooks:    hooks,
	}
}

// Create registers a new session in the waiting state and returns a snapshot.
func (m *Manager) Create(videoID, url, quality, format string) Session {
	s := &Session{
		ID:        uuid.NewString(),
		VideoID:   videoID,
		URL:       url,
		Quality:   quality,
		Format:    format,
		Status:    StatusWaiting,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	snap := *s
	m.mu.Unlock()

	logging.LogSessionCreate(s.ID, videoID, quality, format)
	if m.hooks != nil {
		go m.hooks.OnCreate(snap)
	}
	return snap
}

// Get returns a snapshot of the session, if present.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SetTitle records the extracted media title once metadata is known.
func (m *Manager) SetTitle(id, title string) {
	if title == "" {
		return
	}
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	s.Title = title
	snap := *s
	m.broadcastLocked(id, snap)
	m.mu.Unlock()

	if m.hooks != nil {
		go m.hooks.OnTitle(id, title)
	}
}

// SetDownloading transitions a waiting session to downloading.
func (m *Manager) SetDownloading(id string) {
	m.transition(id, StatusDownloading, func(s *Session) bool {
		return s.Status == StatusWaiting
	}, nil)
}

// ApplyProgress records a progress sample. Samples are ignored unless the
// session is downloading, and the percentage never moves backwards so that
// multi-phase tool output (video stream then audio stream) cannot make the
// reported progress jump around.
func (m *Manager) ApplyProgress(id string, percent float64, rate, eta, totalSize, downloaded string) {
	var snap Session
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusDownloading {
		m.mu.Unlock()
		return
	}
	if percent > s.Progress {
		s.Progress = percent
	}
	if rate != "" {
		s.Rate = rate
	}
	if eta != "" {
		s.ETA = eta
	}
	if totalSize != "" {
		s.TotalSize = totalSize
	}
	if downloaded != "" {
		s.Downloaded = downloaded
	}
	snap = *s
	m.broadcastLocked(id, snap)
	m.mu.Unlock()

	logging.LogDownloadProgress(id, snap.Progress)
	if m.hooks != nil {
		go m.hooks.OnProgress(id, snap.Progress)
	}
}

// Complete transitions a session to completed, forcing progress to 100 and
// recording the produced file path.
func (m *Manager) Complete(id, filePath string) {
	m.transition(id, StatusCompleted, func(s *Session) bool {
		return !s.Status.Terminal()
	}, func(s *Session) {
		s.Progress = 100
		s.FilePath = filePath
	})
}

// Fail transitions a session to the error state with a message.
func (m *Manager) Fail(id, errMsg string) {
	m.transition(id, StatusError, func(s *Session) bool {
		return !s.Status.Terminal()
	}, func(s *Session) {
		s.Error = errMsg
	})
}

func (m *Manager) transition(id string, to Status, allowed func(*Session) bool, apply func(*Session)) {
	var (
		snap Session
		done bool
	)
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && allowed(s) {
		s.Status = to
		if apply != nil {
			apply(s)
		}
		snap = *s
		m.broadcastLocked(id, snap)
		done = true
	}
	m.mu.Unlock()

	if !done {
		return
	}
	logging.LogSessionStateChange(id, string(to), snap.Error)
	if m.hooks != nil {
		go m.hooks.OnStateChange(snap)
	}
}

// Subscribe attaches a listener to a session. An immediate snapshot is queued
// so late subscribers see the current state without waiting for the next
// change. The returned cancel function is idempotent and must be called to
// release the channel. ok is false when the session does not exist.
func (m *Manager) Subscribe(id string, buffer int) (ch <-chan Session, cancel func(), ok bool) {
	if buffer <= 0 {
		buffer = 16
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, exists := m.sessions[id]
	if !exists {
		return nil, nil, false
	}
	c := make(chan Session, buffer)
	c <- *s
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan Session]struct{})
	}
	m.subs[id][c] = struct{}{}

	cancel = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[id]; ok {
			if _, ok := set[c]; ok {
				delete(set, c)
				close(c)
			}
			if len(set) == 0 {
				delete(m.subs, id)
			}
		}
	}
	return c, cancel, true
}

// broadcastLocked fans a snapshot out to subscribers. Callers hold m.mu, so
// sends can never race a channel close. Saturated subscribers lose their
// oldest pending snapshot; only the latest state matters.
func (m *Manager) broadcastLocked(id string, snap Session) {
	for c := range m.subs[id] {
		select {
		case c <- snap:
		default:
			select {
			case <-c:
			default:
			}
			select {
			case c <- snap:
			default:
			}
		}
	}
}

// Cleanup removes a session, closes its subscribers and deletes its file.
// Calling it for an unknown id is a no-op, so racing cleanups are safe.
func (m *Manager) Cleanup(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	var filePath string
	if ok {
		filePath = s.FilePath
		delete(m.sessions, id)
	}
	if set, found := m.subs[id]; found {
		for c := range set {
			close(c)
		}
		delete(m.subs, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	var fileErr error
	if filePath != "" {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			fileErr = err
		}
	}
	logging.LogSessionCleanup(id, filePath, fileErr)
}

// Sweep removes sessions older than maxAge and returns how many were removed.
func (m *Manager) Sweep(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	m.mu.RLock()
	stale := make([]string, 0, 4)
	for id, s := range m.sessions {
		if s.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.Cleanup(id)
	}
	return len(stale)
}

// StartSweeper runs periodic sweeps until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				logging.LogSweep(m.Sweep(maxAge))
			}
		}
	}()
}
