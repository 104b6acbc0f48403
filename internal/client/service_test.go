package client

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"platform-sync/internal/codec"
	"platform-sync/internal/models"
	"platform-sync/internal/services/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peerUpdate struct {
	reviewer string
	kind     models.Kind
	value    string
}

func startRelayServer(t *testing.T) (*relay.SessionManager, string) {
	t.Helper()
	sm := relay.NewSessionManager(relay.Options{}, nil)
	sm.Start()
	srv := httptest.NewServer(relay.NewWebSocketHandler(sm))
	t.Cleanup(func() {
		sm.Shutdown()
		srv.Close()
	})
	return sm, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestService(t *testing.T, name, url string, format codec.Format) (*Service, chan peerUpdate) {
	t.Helper()
	updates := make(chan peerUpdate, 16)
	svc := NewService(NewMemorySettings(name, url), Options{
		Format:               format,
		ReconnectInterval:    20 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}, func(reviewer string, kind models.Kind, value string) {
		updates <- peerUpdate{reviewer, kind, value}
	})
	t.Cleanup(svc.Close)
	return svc, updates
}

func connectService(t *testing.T, svc *Service) {
	t.Helper()
	require.NoError(t, svc.Connect())
	require.Eventually(t, svc.IsConnected, 2*time.Second, 5*time.Millisecond)
}

func expectUpdate(t *testing.T, updates chan peerUpdate, want peerUpdate) {
	t.Helper()
	select {
	case got := <-updates:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("no peer update, want %+v", want)
	}
}

func TestServicesSeeEachOther(t *testing.T) {
	sm, url := startRelayServer(t)
	alice, aliceUpdates := newTestService(t, "alice", url, codec.FormatEnvelope)
	bob, bobUpdates := newTestService(t, "bob", url, codec.FormatDelimited)
	connectService(t, alice)
	connectService(t, bob)

	sent, err := bob.EmitLineChange(1)
	require.NoError(t, err)
	require.True(t, sent)
	require.Eventually(t, func() bool {
		_, ok := sm.Table().Get("bob")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, alice.EmitLocalChange(models.PathChanged, "src/main.go"))
	expectUpdate(t, bobUpdates, peerUpdate{"alice", models.PathChanged, "src::main.go"})

	require.NoError(t, bob.EmitLocalChange(models.LineChanged, "42"))
	expectUpdate(t, aliceUpdates, peerUpdate{"bob", models.LineChanged, "42"})
}

func TestServiceConnectNeedsUsername(t *testing.T) {
	svc, _ := newTestService(t, "", "ws://localhost:1", codec.FormatEnvelope)

	err := svc.Connect()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "username", cfgErr.Field)
	assert.Equal(t, Disconnected, svc.State())
}

func TestServiceBadURLLeavesNoIdentity(t *testing.T) {
	svc, _ := newTestService(t, "alice", "http://relay.local", codec.FormatEnvelope)

	err := svc.Connect()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "server url", cfgErr.Field)
	assert.Empty(t, svc.Username())
	assert.Equal(t, Disconnected, svc.State())

	sent, err := svc.EmitLineChange(3)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestServiceIgnoresOwnEcho(t *testing.T) {
	svc, updates := newTestService(t, "alice", "ws://localhost:1", codec.FormatEnvelope)
	svc.mu.Lock()
	svc.username = "alice"
	svc.mu.Unlock()

	svc.deliver(models.NewLineEvent("alice", 3))
	svc.deliver(models.NewLineEvent("bob", 4))

	expectUpdate(t, updates, peerUpdate{"bob", models.LineChanged, "4"})
	assert.Empty(t, updates)
}

func TestServiceReannouncesAfterReconnect(t *testing.T) {
	_, url := startRelayServer(t)
	svc, _ := newTestService(t, "alice", url, codec.FormatEnvelope)
	connectService(t, svc)

	sent, err := svc.EmitLineChange(5)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, _ = svc.EmitLineChange(5)
	assert.False(t, sent)

	svc.Disconnect()
	sent, _ = svc.EmitLineChange(5)
	assert.False(t, sent, "nothing is sent while disconnected")

	connectService(t, svc)
	sent, err = svc.EmitLineChange(5)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestServiceRejectsBadLine(t *testing.T) {
	svc, _ := newTestService(t, "alice", "ws://localhost:1", codec.FormatEnvelope)
	assert.Error(t, svc.EmitLocalChange(models.LineChanged, "forty"))
	assert.Error(t, svc.EmitLocalChange(models.KindUnknown, "x"))
}
