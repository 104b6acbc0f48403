package relay

import (
	"sort"
	"sync"

	"platform-sync/internal/models"
)

// SessionTable maps reviewer identities to the session that last spoke for
// them. Keys are unique; each session is held under at most one key.
//
// Re-registering an identity from a new connection replaces the entry. The
// displaced connection is left open and simply stops being addressed.
type SessionTable struct {
	mu         sync.RWMutex
	byReviewer map[string]*Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{
		byReviewer: make(map[string]*Session),
	}
}

// Upsert binds reviewerID to s and returns the session it displaced, if any.
// A session that changes identity is dropped from its previous key.
func (t *SessionTable) Upsert(reviewerID string, s *Session) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, held := range t.byReviewer {
		if held == s && id != reviewerID {
			delete(t.byReviewer, id)
		}
	}

	previous := t.byReviewer[reviewerID]
	t.byReviewer[reviewerID] = s
	if previous == s {
		return nil
	}
	return previous
}

// Remove deletes whichever entry currently holds s and reports the reviewer
// it was registered under. Shadowed sessions hold no entry, so removing them
// is a no-op.
func (t *SessionTable) Remove(s *Session) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, held := range t.byReviewer {
		if held == s {
			delete(t.byReviewer, id)
			return id, true
		}
	}
	return "", false
}

// AllExcept returns a snapshot of every session not registered under
// reviewerID. The slice is owned by the caller and unaffected by later
// table changes.
func (t *SessionTable) AllExcept(reviewerID string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Session, 0, len(t.byReviewer))
	for id, s := range t.byReviewer {
		if id != reviewerID {
			out = append(out, s)
		}
	}
	return out
}

func (t *SessionTable) Get(reviewerID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byReviewer[reviewerID]
	return s, ok
}

func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byReviewer)
}

// Snapshot lists registered reviewers sorted by identity.
func (t *SessionTable) Snapshot() []models.SessionInfo {
	t.mu.RLock()
	out := make([]models.SessionInfo, 0, len(t.byReviewer))
	for id, s := range t.byReviewer {
		out = append(out, models.SessionInfo{
			ReviewerID:  id,
			SessionID:   s.ID,
			ConnectedAt: s.ConnectedAt,
		})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ReviewerID < out[j].ReviewerID })
	return out
}
