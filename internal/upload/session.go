package upload

import (
	"sync"
	"time"
)

// Session tracks one chunked upload in memory. Chunk receipt is idempotent
// and order-independent; the completion flag flips exactly once no matter
// how many chunk deliveries race.
type Session struct {
	ID          string
	FileName    string
	TotalChunks int
	ProjectID   string
	MediaType   string
	OwnerID     string
	CreatedAt   time.Time

	mu        sync.Mutex
	received  map[int]struct{}
	completed bool
	assetKey  string
	fileURL   string
}

// MarkReceived records chunk index as present. Duplicate deliveries are a
// no-op. Returns the number of distinct chunks received so far.
func (s *Session) MarkReceived(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received[index] = struct{}{}
	return len(s.received)
}

// ReceivedCount returns the number of distinct chunks received.
func (s *Session) ReceivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

// TryComplete flips the session to completed when every chunk is present.
// Exactly one caller observes true; later callers and partial sessions get
// false. This gates reassembly so it triggers once per session.
func (s *Session) TryComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed || len(s.received) < s.TotalChunks {
		return false
	}
	s.completed = true
	return true
}

// Completed reports whether the session has been marked complete.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// RecordAsset pins the asset identity minted on the completion path, so a
// chunk redelivered after completion can repeat the completion response.
func (s *Session) RecordAsset(assetKey, fileURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assetKey = assetKey
	s.fileURL = fileURL
}

// Asset returns the recorded asset identity; empty until RecordAsset.
func (s *Session) Asset() (assetKey, fileURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assetKey, s.fileURL
}

// Tracker holds active upload sessions keyed by upload ID.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTracker returns an empty session tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*Session)}
}

// Ensure returns the session for meta.UploadID, creating it on first sight.
// The first chunk to arrive fixes the session's metadata; later chunks with
// drifting fields do not overwrite it.
func (t *Tracker) Ensure(meta ChunkMeta) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if session, ok := t.sessions[meta.UploadID]; ok {
		return session
	}
	session := &Session{
		ID:          meta.UploadID,
		FileName:    meta.FileName,
		TotalChunks: meta.TotalChunks,
		ProjectID:   meta.ProjectID,
		MediaType:   meta.MediaType,
		OwnerID:     meta.OwnerID,
		CreatedAt:   time.Now().UTC(),
		received:    make(map[int]struct{}, meta.TotalChunks),
	}
	t.sessions[meta.UploadID] = session
	return session
}

// Get returns the session for uploadID, or nil when unknown.
func (t *Tracker) Get(uploadID string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[uploadID]
}

// Remove forgets a session. Called after reassembly has consumed its chunks.
func (t *Tracker) Remove(uploadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, uploadID)
}

// Stale returns sessions created before cutoff. Completed sessions age out
// with the rest; their entries are kept only to answer late duplicate chunks.
func (t *Tracker) Stale(cutoff time.Time) []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []*Session
	for _, session := range t.sessions {
		if session.CreatedAt.Before(cutoff) {
			stale = append(stale, session)
		}
	}
	return stale
}
