package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MergeWatch/internal/domain/models"
)

func startHub(t *testing.T, opts ...HubOption) (*Hub, string) {
	t.Helper()
	h := NewHub(opts...)
	e := echo.New()
	h.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		_ = h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/anomalies/stream"
}

func dial(t *testing.T, h *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return h.Clients() == want }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ReconciledEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev models.ReconciledEvent
	require.NoError(t, json.Unmarshal(b, &ev))
	return ev
}

func TestHub_BroadcastsFilteredEvents(t *testing.T) {
	h, url := startHub(t)
	all := dial(t, h, url, 1)
	only7 := dial(t, h, url+"?alert_id=7", 2)
	ctx := context.Background()

	child := &models.Anomaly{ID: 11, StartTime: 1, EndTime: 2, IsChild: true}
	parent := &models.Anomaly{ID: 10, StartTime: 1, EndTime: 3, Children: []*models.Anomaly{child}}

	require.NoError(t, h.PublishReconciled(ctx, 8, 0, []*models.Anomaly{{ID: 1, StartTime: 5, EndTime: 6}}))
	require.NoError(t, h.PublishReconciled(ctx, 7, 2, []*models.Anomaly{parent, child}))

	assert.Equal(t, int64(8), readEvent(t, all).AlertID)
	assert.Equal(t, int64(7), readEvent(t, all).AlertID)

	ev := readEvent(t, only7)
	assert.Equal(t, int64(7), ev.AlertID)
	assert.Equal(t, int64(2), ev.EnumerationItemID)
	require.Len(t, ev.Anomalies, 1)
	assert.Equal(t, int64(10), ev.Anomalies[0].ID)
	assert.Len(t, ev.Anomalies[0].Children, 1)
}

func TestHub_EmptyBatchIsNotSent(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, h, url, 1)

	require.NoError(t, h.PublishReconciled(context.Background(), 1, 0, nil))
	require.NoError(t, h.PublishReconciled(context.Background(), 1, 0, []*models.Anomaly{{ID: 3, StartTime: 1, EndTime: 2}}))

	assert.Equal(t, int64(3), readEvent(t, conn).Anomalies[0].ID)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := NewHub(WithSendBuffer(1))
	cl := &client{send: make(chan []byte, 1)}
	require.True(t, h.add(cl))

	batch := []*models.Anomaly{{ID: 1, StartTime: 1, EndTime: 2}}
	require.NoError(t, h.PublishReconciled(context.Background(), 1, 0, batch))
	assert.Equal(t, 1, h.Clients())

	require.NoError(t, h.PublishReconciled(context.Background(), 1, 0, batch))
	assert.Equal(t, 0, h.Clients())

	<-cl.send
	_, open := <-cl.send
	assert.False(t, open)
}

func TestHub_CloseRefusesNewClients(t *testing.T) {
	h, url := startHub(t)
	conn := dial(t, h, url, 1)

	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.False(t, h.add(&client{send: make(chan []byte)}))
}
