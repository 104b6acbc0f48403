package client

import (
	"errors"
	"testing"

	"platform-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	connected bool
	fail      error
	sent      []models.PresenceEvent
}

func (f *fakeSender) Send(ev models.PresenceEvent) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeSender) IsConnected() bool { return f.connected }

func TestTrackerDropsRepeatedLine(t *testing.T) {
	sender := &fakeSender{connected: true}
	tr := NewTracker(sender)

	sent, err := tr.LineChanged("alice", 5)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = tr.LineChanged("alice", 5)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, sender.sent, 1)

	_, err = tr.LineChanged("alice", 6)
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, 6, sender.sent[1].Line)
}

func TestTrackerNormalizesPaths(t *testing.T) {
	sender := &fakeSender{connected: true}
	tr := NewTracker(sender)

	_, err := tr.PathChanged("alice", "src/main.go")
	require.NoError(t, err)
	_, err = tr.PathChanged("alice", `src\main.go`)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "src::main.go", sender.sent[0].Path)
	assert.Equal(t, models.PathChanged, sender.sent[0].Kind)
}

func TestTrackerKindsAreIndependent(t *testing.T) {
	sender := &fakeSender{connected: true}
	tr := NewTracker(sender)

	_, _ = tr.PathChanged("alice", "a.go")
	_, _ = tr.LineChanged("alice", 1)
	_, _ = tr.PathChanged("alice", "a.go")
	_, _ = tr.LineChanged("alice", 1)
	assert.Len(t, sender.sent, 2)
}

func TestTrackerRemembersOnlySentValues(t *testing.T) {
	sender := &fakeSender{}
	tr := NewTracker(sender)

	sent, err := tr.LineChanged("alice", 5)
	require.NoError(t, err)
	assert.False(t, sent, "offline changes are not sent")

	sender.fail = errors.New("broken pipe")
	sender.connected = true
	_, err = tr.LineChanged("alice", 5)
	assert.Error(t, err)

	sender.fail = nil
	sent, err = tr.LineChanged("alice", 5)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestTrackerReset(t *testing.T) {
	sender := &fakeSender{connected: true}
	tr := NewTracker(sender)

	_, _ = tr.LineChanged("alice", 5)
	_, _ = tr.PathChanged("alice", "a.go")
	tr.Reset()
	_, _ = tr.LineChanged("alice", 5)
	_, _ = tr.PathChanged("alice", "a.go")
	assert.Len(t, sender.sent, 4)
}
