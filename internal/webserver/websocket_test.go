package webserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nantokaworks/choice-wheel/internal/types"
)

func dialWheel(t *testing.T, env *testEnv, wheelID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?wheel=" + wheelID + "&token=" + token
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("dial failed: status=%d err=%v", status, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// nextSnapshot reads until a wheel snapshot satisfying match arrives.
func nextSnapshot(t *testing.T, conn *websocket.Conn, match func(types.Wheel) bool) types.Wheel {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("failed to read message: %v", err)
		}
		if msg.Type != MsgWheelSnapshot {
			continue
		}
		var wheel types.Wheel
		if err := json.Unmarshal(msg.Data, &wheel); err != nil {
			t.Fatalf("failed to decode snapshot: %v", err)
		}
		if match(wheel) {
			return wheel
		}
	}
}

func TestWebSocketSnapshots(t *testing.T) {
	env := setupTestServer(t)
	_, token := env.signIn(t, "owner@example.com")
	wheel := env.createWheel(t, token, "A", "B", "C")

	conn := dialWheel(t, env, wheel.ID, token)

	initial := nextSnapshot(t, conn, func(w types.Wheel) bool { return true })
	if initial.ID != wheel.ID || initial.Version != wheel.Version {
		t.Fatalf("unexpected initial snapshot: id=%s version=%d", initial.ID, initial.Version)
	}

	if code, res := env.do(t, http.MethodPost, "/api/wheels/"+wheel.ID+"/spin/start", token, nil); code != http.StatusOK {
		t.Fatalf("spin start failed: code=%d res=%+v", code, res)
	}
	spinning := nextSnapshot(t, conn, func(w types.Wheel) bool { return w.Spin.IsSpinning })
	if spinning.Version <= initial.Version {
		t.Fatalf("version should increase: got=%d initial=%d", spinning.Version, initial.Version)
	}

	env.do(t, http.MethodPost, "/api/wheels/"+wheel.ID+"/spin/complete", token, map[string]string{"winner": "b"})
	resolved := nextSnapshot(t, conn, func(w types.Wheel) bool {
		_, ok := w.Spin.Phase().(types.Resolved)
		return ok
	})
	if got := resolved.Spin.Phase().(types.Resolved).Winner; got != "B" {
		t.Fatalf("canonical winner expected: got=%s want=B", got)
	}
}

func TestWebSocketRejectsHiddenWheel(t *testing.T) {
	env := setupTestServer(t)
	_, ownerToken := env.signIn(t, "owner@example.com")
	_, otherToken := env.signIn(t, "other@example.com")
	wheel := env.createWheel(t, ownerToken, "A", "B")

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?wheel=" + wheel.ID + "&token=" + otherToken
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial should fail for a private wheel")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected handshake response: %+v", res)
	}
}

func TestHubBroadcastReachesClients(t *testing.T) {
	env := setupTestServer(t)
	_, token := env.signIn(t, "owner@example.com")
	wheel := env.createWheel(t, token, "A", "B")
	conn := dialWheel(t, env, wheel.ID, token)

	deadline := time.Now().Add(3 * time.Second)
	for env.srv.Hub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.srv.Hub().Broadcast(MsgSpinCount, map[string]int{"total_spins": 7})

	for {
		conn.SetReadDeadline(deadline)
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("failed to read message: %v", err)
		}
		if msg.Type == MsgSpinCount {
			if !strings.Contains(string(msg.Data), `"total_spins":7`) {
				t.Fatalf("unexpected payload: %s", msg.Data)
			}
			return
		}
	}
}
