package client

import (
	"sync"

	"platform-sync/internal/models"
)

// Sender is the part of Manager the tracker needs.
type Sender interface {
	Send(ev models.PresenceEvent) error
	IsConnected() bool
}

// Tracker suppresses repeated presence values. A value is remembered only
// after it has been sent, so changes made while offline are not swallowed.
type Tracker struct {
	sender Sender

	mu       sync.Mutex
	lastPath string
	lastLine int
	hasPath  bool
	hasLine  bool
}

func NewTracker(sender Sender) *Tracker {
	return &Tracker{sender: sender}
}

// PathChanged sends a path event unless path equals the last one sent.
// It reports whether an event went out.
func (t *Tracker) PathChanged(reviewer, path string) (bool, error) {
	path = models.NormalizePath(path)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sender.IsConnected() || (t.hasPath && t.lastPath == path) {
		return false, nil
	}
	if err := t.sender.Send(models.NewPathEvent(reviewer, path)); err != nil {
		return false, err
	}
	t.lastPath, t.hasPath = path, true
	return true, nil
}

// LineChanged sends a line event unless line equals the last one sent.
func (t *Tracker) LineChanged(reviewer string, line int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sender.IsConnected() || (t.hasLine && t.lastLine == line) {
		return false, nil
	}
	if err := t.sender.Send(models.NewLineEvent(reviewer, line)); err != nil {
		return false, err
	}
	t.lastLine, t.hasLine = line, true
	return true, nil
}

// Reset forgets the last values, so the next change is always sent. Called
// on every fresh connection so peers learn the current position.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastPath, t.hasPath = "", false
	t.lastLine, t.hasLine = 0, false
}
