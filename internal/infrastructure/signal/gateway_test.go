package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/core/services"
	"meshcall/internal/infrastructure/monitoring"
	"meshcall/internal/infrastructure/repositories/memory"
	"meshcall/internal/infrastructure/signaling"
	rtcinfra "meshcall/internal/infrastructure/webrtc"
)

// testEnv exposes the services behind the gateway so tests can assert on
// state the sockets do not surface directly.
type testEnv struct {
	srv    *httptest.Server
	calls  ports.CallService
	groups ports.GroupCallService
}

func newTestServer(t *testing.T, ringTimeout time.Duration) *testEnv {
	t.Helper()

	logger := zap.NewNop().Sugar()
	bus := signaling.NewMemoryBus()
	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())

	calls := services.NewCallService(memory.NewCallRepository(), memory.NewCallLogRepository(), 20*time.Millisecond, logger)
	groups := services.NewGroupCallService(memory.NewGroupCallRepository(), bus, logger)

	links := rtcinfra.NewLinkFactory(rtcinfra.Config{OfferFallbackDelay: 50 * time.Millisecond}, bus, metrics, logger)
	provider := rtcinfra.NewStaticProvider()

	gw := NewGateway(calls, groups, provider, links, bus, ringTimeout, 20*time.Millisecond, metrics, logger)

	srv := httptest.NewServer(http.HandlerFunc(gw.HandleWebSocket))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, calls: calls, groups: groups}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, env *testEnv, userID string) *wsClient {
	t.Helper()

	url := strings.Replace(env.srv.URL, "http", "ws", 1) + "?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) sendIntent(msg map[string]interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// waitFor reads events until one of the wanted type arrives, skipping
// unrelated pushes.
func (c *wsClient) waitFor(eventType string) map[string]interface{} {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		require.NoErrorf(c.t, err, "waiting for %q", eventType)

		var ev map[string]interface{}
		require.NoError(c.t, json.Unmarshal(data, &ev))
		if ev["type"] == eventType {
			return ev
		}
	}
	c.t.Fatalf("timed out waiting for %q", eventType)
	return nil
}

func TestWebSocketRequiresUserID(t *testing.T) {
	env := newTestServer(t, time.Minute)

	resp, err := http.Get(env.srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallAcceptedAndEnded(t *testing.T) {
	env := newTestServer(t, time.Minute)
	alice := dial(t, env, "alice")
	bob := dial(t, env, "bob")

	alice.sendIntent(map[string]interface{}{"type": "start_call", "callee_id": "bob", "call_type": "voice"})

	ringing := alice.waitFor("call_ringing")
	callID, _ := ringing["call_id"].(string)
	require.NotEmpty(t, callID)

	incoming := bob.waitFor("incoming_call")
	assert.Equal(t, callID, incoming["call_id"])
	assert.Equal(t, "alice", incoming["caller_id"])

	bob.sendIntent(map[string]interface{}{"type": "answer_call", "call_id": callID})
	bob.waitFor("call_accepted")
	alice.waitFor("call_accepted")

	bob.sendIntent(map[string]interface{}{"type": "end_call", "call_id": callID})
	ended := bob.waitFor("call_ended")
	assert.Equal(t, callID, ended["call_id"])

	// The caller learns about the hangup through the link teardown.
	alice.waitFor("call_ended")
}

func TestCallRejected(t *testing.T) {
	env := newTestServer(t, time.Minute)
	alice := dial(t, env, "alice")
	bob := dial(t, env, "bob")

	alice.sendIntent(map[string]interface{}{"type": "start_call", "callee_id": "bob", "call_type": "video"})
	alice.waitFor("call_ringing")

	incoming := bob.waitFor("incoming_call")
	callID, _ := incoming["call_id"].(string)

	bob.sendIntent(map[string]interface{}{"type": "reject_call", "call_id": callID})
	bob.waitFor("call_rejected")
	alice.waitFor("call_rejected")
}

func TestUnansweredCallGoesMissed(t *testing.T) {
	env := newTestServer(t, 100*time.Millisecond)
	alice := dial(t, env, "alice")
	dial(t, env, "bob") // connected but never answers

	alice.sendIntent(map[string]interface{}{"type": "start_call", "callee_id": "bob", "call_type": "voice"})
	alice.waitFor("call_ringing")
	alice.waitFor("call_missed")
}

func TestGroupInviteReachesInvitees(t *testing.T) {
	env := newTestServer(t, time.Minute)
	alice := dial(t, env, "alice")
	bob := dial(t, env, "bob")

	alice.sendIntent(map[string]interface{}{
		"type":        "create_group_call",
		"invitee_ids": []string{"bob", "carol"},
		"call_type":   "voice",
		"title":       "standup",
	})
	created := alice.waitFor("group_call_created")
	groupID, _ := created["group_call_id"].(string)
	require.NotEmpty(t, groupID)

	invite := bob.waitFor("group_invite")
	assert.Equal(t, groupID, invite["group_call_id"])
	assert.Equal(t, "alice", invite["initiator_id"])
	assert.Equal(t, "standup", invite["title"])

	bob.sendIntent(map[string]interface{}{"type": "join_group_call", "group_call_id": groupID})
	joined := bob.waitFor("group_call_joined")
	assert.Equal(t, groupID, joined["group_call_id"])

	bob.sendIntent(map[string]interface{}{"type": "leave_group_call", "group_call_id": groupID})
	bob.waitFor("group_call_left")
}

func TestUnknownIntentReportsError(t *testing.T) {
	env := newTestServer(t, time.Minute)
	alice := dial(t, env, "alice")

	alice.sendIntent(map[string]interface{}{"type": "time_travel"})
	ev := alice.waitFor("error")
	assert.Equal(t, "time_travel", ev["intent"])
}

func TestToggleMuteWithoutSessionFails(t *testing.T) {
	env := newTestServer(t, time.Minute)
	alice := dial(t, env, "alice")

	alice.sendIntent(map[string]interface{}{"type": "toggle_mute"})
	ev := alice.waitFor("error")
	assert.Contains(t, ev["message"], "no active session")
}

func TestDisconnectLeavesGroupCall(t *testing.T) {
	env := newTestServer(t, time.Minute)
	alice := dial(t, env, "alice")
	bob := dial(t, env, "bob")

	alice.sendIntent(map[string]interface{}{
		"type":        "create_group_call",
		"invitee_ids": []string{"bob"},
		"call_type":   "voice",
	})
	created := alice.waitFor("group_call_created")
	groupID, _ := created["group_call_id"].(string)
	require.NotEmpty(t, groupID)

	bob.waitFor("group_invite")
	bob.sendIntent(map[string]interface{}{"type": "join_group_call", "group_call_id": groupID})
	bob.waitFor("group_call_joined")

	// Both sockets die without a leave intent. The departures must still
	// be stamped, and with nobody left the group call ends.
	require.NoError(t, alice.conn.Close())
	require.NoError(t, bob.conn.Close())

	require.Eventually(t, func() bool {
		call, err := env.groups.GetGroupCall(context.Background(), domain.GroupCallID(groupID))
		return err == nil && call.Status == domain.GroupCallStatusEnded
	}, 5*time.Second, 20*time.Millisecond, "dropped sockets never left the group call")
}

func TestReconnectRearmsOutcomeWatch(t *testing.T) {
	env := newTestServer(t, time.Minute)
	alice := dial(t, env, "alice")
	bob := dial(t, env, "bob")

	alice.sendIntent(map[string]interface{}{"type": "start_call", "callee_id": "bob", "call_type": "voice"})
	ringing := alice.waitFor("call_ringing")
	callID, _ := ringing["call_id"].(string)
	require.NotEmpty(t, callID)
	bob.waitFor("incoming_call")

	// The caller's socket drops while the call is still ringing, then
	// comes back. The fresh connection must pick the outcome watch back up.
	require.NoError(t, alice.conn.Close())
	alice = dial(t, env, "alice")

	bob.sendIntent(map[string]interface{}{"type": "answer_call", "call_id": callID})
	bob.waitFor("call_accepted")

	accepted := alice.waitFor("call_accepted")
	assert.Equal(t, callID, accepted["call_id"])
}
