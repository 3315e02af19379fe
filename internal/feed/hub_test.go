package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"layer-monitor/internal/defect"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	h := NewHub(logger)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func summary(layer int) defect.LayerSummary {
	return defect.Evaluate(nil, layer, true, true).Summary
}

func TestHubSendsSnapshotThenLayers(t *testing.T) {
	h, srv := newTestHub(t)
	ctx := context.Background()
	require.NoError(t, h.Record(ctx, summary(1)))

	conn := dial(t, srv)
	snap := readMessage(t, conn)
	assert.Equal(t, TypeSnapshot, snap.Type)
	require.Len(t, snap.Summaries, 1)
	assert.Equal(t, 1, snap.Summaries[0].Layer)

	require.NoError(t, h.Record(ctx, summary(2)))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeLayer, msg.Type)
	require.Len(t, msg.Summaries, 1)
	assert.Equal(t, 2, msg.Summaries[0].Layer)
	assert.Equal(t, defect.DecisionNoDefects, msg.Summaries[0].Decision)
}

func TestHubBroadcastsToAllClients(t *testing.T) {
	h, srv := newTestHub(t)
	a := dial(t, srv)
	b := dial(t, srv)
	readMessage(t, a)
	readMessage(t, b)
	assert.Equal(t, 2, h.Clients())

	require.NoError(t, h.Record(context.Background(), summary(7)))
	assert.Equal(t, 7, readMessage(t, a).Summaries[0].Layer)
	assert.Equal(t, 7, readMessage(t, b).Summaries[0].Layer)
}

func TestHubSummariesEndpoint(t *testing.T) {
	h, srv := newTestHub(t)
	require.NoError(t, h.Record(context.Background(), summary(3)))

	resp, err := http.Get(srv.URL + "/summaries")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got []defect.LayerSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Layer)

	post, err := http.Post(srv.URL+"/summaries", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestHubCloseDisconnects(t *testing.T) {
	h, srv := newTestHub(t)
	conn := dial(t, srv)
	readMessage(t, conn)

	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.Clients())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
