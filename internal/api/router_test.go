package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"platform-sync/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	sessions []models.SessionInfo
}

func (f *fakeDirectory) ConnectionCount() int           { return len(f.sessions) + 1 }
func (f *fakeDirectory) Sessions() []models.SessionInfo { return f.sessions }

func newTestRouter(ws http.Handler, metrics http.Handler) (*fakeDirectory, http.Handler) {
	dir := &fakeDirectory{sessions: []models.SessionInfo{
		{ReviewerID: "alice", SessionID: "s1", ConnectedAt: time.Unix(0, 0).UTC()},
	}}
	if ws == nil {
		ws = http.NotFoundHandler()
	}
	return dir, SetupRoutes(NewHandler(dir, ws, metrics))
}

func TestHealth(t *testing.T) {
	_, router := newTestRouter(nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["connections"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestListSessions(t *testing.T) {
	_, router := newTestRouter(nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Sessions []models.SessionInfo `json:"sessions"`
		Count    int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "alice", body.Sessions[0].ReviewerID)
}

func TestMetricsRouteOptional(t *testing.T) {
	_, router := newTestRouter(nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("platform_sync_connections 0\n"))
	})
	_, router = newTestRouter(nil, metrics)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "platform_sync_connections")
}

// The upgrade has to survive the tracing middleware's response wrapper.
func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	upgraded := make(chan struct{}, 1)
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		upgraded <- struct{}{}
		c.Close()
	})
	_, router := newTestRouter(ws, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	for _, path := range []string{"/ws", "/"} {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err, path)
		c.Close()

		select {
		case <-upgraded:
		case <-time.After(2 * time.Second):
			t.Fatalf("no upgrade on %s", path)
		}
	}
}
