package target

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/volley/internal/performance/check"
	"github.com/wesleyorama2/volley/internal/performance/metrics"
	"github.com/wesleyorama2/volley/internal/performance/probe"
	"github.com/wesleyorama2/volley/internal/performance/session"
)

func newTarget(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(New(nil).Handler())
	t.Cleanup(server.Close)
	return server
}

func TestMetricsEndpoint_PassesHealthChecks(t *testing.T) {
	server := newTarget(t)

	m := metrics.NewEngine()
	t.Cleanup(m.Stop)
	checks := check.NewRegistry()
	p, err := probe.New(probe.Config{URL: server.URL + "/metrics", MaxDuration: 10 * time.Second}, nil, m, checks, nil)
	require.NoError(t, err)

	result := p.Do(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	totals := checks.Totals()
	assert.Equal(t, int64(3), totals.Passes)
	assert.Zero(t, totals.Fails)
}

func TestMetricsEndpoint_RejectsPost(t *testing.T) {
	server := newTarget(t)

	resp, err := http.Post(server.URL+"/metrics", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocket_EchoesEnvelope(t *testing.T) {
	server := newTarget(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	for seq := int64(1); seq <= 3; seq++ {
		id, payload, err := session.EncodeMessage(session.PolicySingleSlot, 7, seq, time.Now())
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)

		reply, gotID, err := session.DecodeReply(frame)
		require.NoError(t, err)
		assert.Equal(t, id, gotID)
		assert.Equal(t, seq, reply.MessageID)
		assert.Equal(t, int64(1), reply.ConnectionID)
		assert.Equal(t, string(payload), *reply.ClientMessage)
		assert.Positive(t, reply.ServerTimestamp)
	}
}

func TestStats_CountsConnectionsAndMessages(t *testing.T) {
	server := newTarget(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("STATS")))
		_, _, err = conn.ReadMessage()
		require.NoError(t, err)
		conn.Close()
	}

	resp, err := http.Get(server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, uint64(2), stats.TotalConnections)
	assert.Equal(t, uint64(2), stats.TotalMessages)
}

func TestMetricsEndpoint_ReportsHostSections(t *testing.T) {
	server := newTarget(t)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	for _, section := range []string{"system", "memory", "cpu", "disk", "network"} {
		assert.Contains(t, body, section)
	}

	var system SystemMetrics
	require.NoError(t, json.Unmarshal(body["system"], &system))
	assert.NotEmpty(t, system.OS)
	assert.NotEmpty(t, system.GoVersion)
	assert.NotEmpty(t, system.Timestamp)
}

func TestHostCollector_CachesWithinTTL(t *testing.T) {
	c := NewHostCollector(time.Hour, nil)

	first := c.Collect()
	second := c.Collect()
	assert.Equal(t, first.System.Timestamp, second.System.Timestamp)

	fresh := NewHostCollector(0, nil)
	a := fresh.Collect()
	time.Sleep(2 * time.Millisecond)
	b := fresh.Collect()
	assert.NotEqual(t, a.System.Timestamp, b.System.Timestamp)
}
