package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/hub"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/websocket"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/testutil"
)

func startRelayServer(t *testing.T) (*relay, *httptest.Server) {
	t.Helper()
	r := newTestRelay(t, testRelayConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.manager.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(r.router)
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return r, srv
}

func issueToken(t *testing.T, srv *httptest.Server, clientID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"clientId": clientID})
	resp, err := http.Post(srv.URL+"/api/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestRelayEndToEnd(t *testing.T) {
	r, srv := startRelayServer(t)
	token := issueToken(t, srv, "ext-e2e")

	client, err := testutil.NewWebSocketTestClient(testutil.WebSocketURL(srv.URL, "/ws"), token)
	require.NoError(t, err)
	defer client.Close()

	connected, err := client.ReadType(websocket.TypeConnected, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ext-e2e", connected["clientId"])

	require.NoError(t, client.SendMessage(map[string]interface{}{
		"type":    websocket.TypeUpdateFilters,
		"filters": models.Filter{Enabled: true, Types: []models.EventType{models.EventTypeMotion}},
	}))
	_, err = client.ReadType(websocket.TypeFiltersUpdated, 2*time.Second)
	require.NoError(t, err)

	person := models.Event{ID: "evt-person", Type: models.EventTypePerson, Severity: models.SeverityHigh, Timestamp: time.Now()}
	motion := models.Event{ID: "evt-motion", Type: models.EventTypeMotion, Severity: models.SeverityMedium, Timestamp: time.Now()}
	assert.Equal(t, 0, r.registry.Broadcast(person))
	assert.Equal(t, 1, r.registry.Broadcast(motion))

	msg, err := client.ReadType(websocket.TypeEvent, 2*time.Second)
	require.NoError(t, err)
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "evt-motion", data["id"])
}

func TestRelayRejectsBadTokens(t *testing.T) {
	_, srv := startRelayServer(t)
	helper := testutil.NewJWTTestHelperWithSecret([]byte(testRelayConfig().JWTSecret))

	expired, err := helper.GenerateExpiredJWT("ext")
	require.NoError(t, err)
	wrong, err := helper.GenerateJWTWithWrongSecret("ext")
	require.NoError(t, err)
	none, err := helper.GenerateJWTWithNoneAlgorithm("ext")
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": wrong,
		"none alg":     none,
		"malformed":    helper.GenerateMalformedJWT(),
	} {
		client, err := testutil.NewWebSocketTestClient(testutil.WebSocketURL(srv.URL, "/ws"), token)
		require.NoError(t, err, name)

		ce, err := client.WaitClosed(2 * time.Second)
		require.NoError(t, err, name)
		require.NotNil(t, ce, name)
		assert.Equal(t, hub.CloseAuthFailed, ce.Code, name)
		_ = client.Close()
	}
}
