package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/privacy"
	"github.com/raaihank/phi-guard/internal/service"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(config.WebSocketConfig{
		Enabled:  true,
		Username: "auditor",
		Password: "s3cret",
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user, pass string) (*gws.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	return gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func readEvent(t *testing.T, conn *gws.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]interface{}
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestHubBroadcastsAuditEvents(t *testing.T) {
	hub, srv := startHub(t)

	conn, _, err := dial(t, srv, "auditor", "s3cret")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Record(service.AuditEvent{
		Action:    service.AuditRedaction,
		TenantID:  "clinic-a",
		SessionID: "s1",
		MappingID: "m1",
		Counts:    map[privacy.Category]int{privacy.CategorySSN: 1, privacy.CategoryName: 2},
		Total:     3,
		Persisted: true,
		Timestamp: time.Now(),
	})

	event := readEvent(t, conn)
	assert.Equal(t, string(EventTypePHIRedaction), event["type"])

	data := event["data"].(map[string]interface{})
	assert.Equal(t, "clinic-a", data["tenant_id"])
	assert.Equal(t, float64(3), data["total"])
	counts := data["counts"].(map[string]interface{})
	assert.Equal(t, float64(2), counts["NAME"])

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "[PHI_")

	assert.Equal(t, int64(1), hub.GetStats().TotalRedactions)
}

func TestHubTenantSubscription(t *testing.T) {
	hub, srv := startHub(t)

	conn, _, err := dial(t, srv, "auditor", "s3cret")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", Tenant: "clinic-a"}))

	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.Subscription != nil && c.Subscription.Tenant == "clinic-a" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	hub.Record(service.AuditEvent{Action: service.AuditRedaction, TenantID: "clinic-b", Total: 1, Timestamp: time.Now()})
	hub.Record(service.AuditEvent{Action: service.AuditReidentification, TenantID: "clinic-a", Total: 1, Timestamp: time.Now()})

	event := readEvent(t, conn)
	assert.Equal(t, string(EventTypeReidentification), event["type"])
	assert.Equal(t, "clinic-a", event["data"].(map[string]interface{})["tenant_id"])
}

func TestHubRejectsBadCredentials(t *testing.T) {
	_, srv := startHub(t)

	_, resp, err := dial(t, srv, "auditor", "wrong")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	plain, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer plain.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, plain.StatusCode)
}

func TestHubWithoutConfiguredCredentials(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, nil)
	assert.False(t, hub.validCredentials("", ""))
}

func TestWants(t *testing.T) {
	redaction := Event{Type: EventTypePHIRedaction, Data: AuditEventData{TenantID: "Clinic-A"}}

	assert.True(t, wants(nil, redaction))
	assert.True(t, wants(&Subscription{Tenant: "clinic-a"}, redaction))
	assert.False(t, wants(&Subscription{Tenant: "clinic-b"}, redaction))
	assert.False(t, wants(&Subscription{Events: []EventType{EventTypeSystemStatus}}, redaction))
	assert.True(t, wants(&Subscription{Tenant: "clinic-b"}, Event{Type: EventTypeSystemStatus, Data: SystemStatusEvent{}}))
}
