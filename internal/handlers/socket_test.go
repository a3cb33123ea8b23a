package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charlieegan3/social-relay/internal/relay"
	"github.com/charlieegan3/social-relay/internal/types"
)

func socketURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/socket"
}

func dialAs(t *testing.T, f *fixture, server *httptest.Server, user string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(socketURL(server)+"?token="+f.tokens[user], nil)
	if err != nil {
		t.Fatalf("failed to connect as %s: %s", user, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForChannels(t *testing.T, registry *relay.Registry, n int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for registry.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d channels, have %d", n, registry.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) relay.Outgoing {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set deadline: %s", err)
	}
	var ev relay.Outgoing
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %s", err)
	}
	return ev
}

func TestSocketHandshakeRejected(t *testing.T) {
	f := newFixture(t, "golang", "alice")
	server := httptest.NewServer(f.router)
	defer server.Close()

	testCases := []struct {
		Description string
		Query       string
		Headers     http.Header
	}{
		{
			Description: "no credential",
		},
		{
			Description: "garbage token",
			Query:       "?token=garbage",
		},
		{
			Description: "garbage header",
			Headers:     http.Header{"Authorization": []string{"Bearer garbage"}},
		},
		{
			Description: "wrong scheme",
			Headers:     http.Header{"Authorization": []string{"Basic " + f.tokens["alice"]}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Description, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(socketURL(server)+tc.Query, tc.Headers)
			if err == nil {
				conn.Close()
				t.Fatalf("expected the handshake to fail")
			}
			if resp == nil {
				t.Fatalf("expected a response, got %s", err)
			}
			defer resp.Body.Close()

			if got, want := resp.StatusCode, http.StatusUnauthorized; got != want {
				t.Fatalf("unexpected response code: got %d want %d", got, want)
			}
			if got, want := f.relay.Registry().Count(), 0; got != want {
				t.Fatalf("unexpected bound channels: got %d want %d", got, want)
			}
		})
	}
}

func TestSocketRelay(t *testing.T) {
	f := newFixture(t, "golang", "alice", "bob")
	server := httptest.NewServer(f.router)
	defer server.Close()

	alice := dialAs(t, f, server, "alice")

	// bob connects with a header credential on two devices
	header := http.Header{"Authorization": []string{"Bearer " + f.tokens["bob"]}}
	var bobDevices []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, resp, err := websocket.DefaultDialer.Dial(socketURL(server), header)
		if err != nil {
			t.Fatalf("failed to connect as bob: %s", err)
		}
		resp.Body.Close()
		defer conn.Close()
		bobDevices = append(bobDevices, conn)
	}

	waitForChannels(t, f.relay.Registry(), 3)

	// the sender field is ignored, the verified identity is used
	err := alice.WriteJSON(map[string]string{
		"type":     relay.EventSendMessage,
		"receiver": f.ids["bob"],
		"message":  "hi",
		"sender":   f.ids["bob"],
	})
	if err != nil {
		t.Fatalf("failed to send: %s", err)
	}

	ack := readEvent(t, alice)
	if got, want := ack.Type, relay.EventMessageSent; got != want {
		t.Fatalf("unexpected ack: got %s want %s (%s)", got, want, ack.Error)
	}

	history, err := f.relay.History(context.Background(), f.ids["alice"], f.ids["bob"], types.HistoryQuery{})
	if err != nil {
		t.Fatalf("failed to read history: %s", err)
	}
	if got, want := len(history), 1; got != want {
		t.Fatalf("unexpected history length: got %d want %d", got, want)
	}
	stored := history[0]

	for i, device := range bobDevices {
		ev := readEvent(t, device)
		if got, want := ev.Type, relay.EventReceiveMessage; got != want {
			t.Fatalf("device %d: unexpected event: got %s want %s", i, got, want)
		}
		got := ev.Message
		if got == nil {
			t.Fatalf("device %d: event carried no message", i)
		}
		if got.ID != stored.ID || got.Content != stored.Content || got.Sender != f.ids["alice"] || got.Receiver != stored.Receiver {
			t.Fatalf("device %d: forwarded %+v, persisted %+v", i, *got, stored)
		}
		if !got.CreatedAt.Equal(stored.CreatedAt) {
			t.Fatalf("device %d: forwarded at %s, persisted at %s", i, got.CreatedAt, stored.CreatedAt)
		}
	}

	t.Run("errors are reported as events", func(t *testing.T) {
		if err := alice.WriteJSON(map[string]string{"type": relay.EventSendMessage, "receiver": f.ids["bob"]}); err != nil {
			t.Fatalf("failed to send: %s", err)
		}
		ev := readEvent(t, alice)
		if got, want := ev.Type, relay.EventError; got != want {
			t.Fatalf("unexpected event: got %s want %s", got, want)
		}
		if got, want := string(ev.Kind), "invalid"; got != want {
			t.Fatalf("unexpected kind: got %s want %s", got, want)
		}

		if err := alice.WriteJSON(map[string]string{"type": "dance"}); err != nil {
			t.Fatalf("failed to send: %s", err)
		}
		ev = readEvent(t, alice)
		if got, want := ev.Type, relay.EventError; got != want {
			t.Fatalf("unexpected event: got %s want %s", got, want)
		}
	})

	t.Run("disconnect unbinds", func(t *testing.T) {
		for _, device := range bobDevices {
			device.Close()
		}
		waitForChannels(t, f.relay.Registry(), 1)

		if f.relay.Registry().Connected(f.ids["bob"]) {
			t.Fatalf("bob is still bound")
		}

		// messages to an offline user are still persisted
		if err := alice.WriteJSON(map[string]string{"type": relay.EventSendMessage, "receiver": f.ids["bob"], "message": "later"}); err != nil {
			t.Fatalf("failed to send: %s", err)
		}
		if ev := readEvent(t, alice); ev.Type != relay.EventMessageSent {
			t.Fatalf("unexpected event: %s (%s)", ev.Type, ev.Error)
		}

		history, err := f.relay.History(context.Background(), f.ids["bob"], f.ids["alice"], types.HistoryQuery{})
		if err != nil {
			t.Fatalf("failed to read history: %s", err)
		}
		if got, want := len(history), 2; got != want {
			t.Fatalf("unexpected history length: got %d want %d", got, want)
		}
	})
}

func TestSocketContentLengthAfterEscaping(t *testing.T) {
	f := newFixture(t, "golang", "alice", "bob")
	server := httptest.NewServer(f.router)
	defer server.Close()

	alice := dialAs(t, f, server, "alice")
	waitForChannels(t, f.relay.Registry(), 1)

	// WriteJSON escapes each '<' to six bytes on the wire
	testCases := []struct {
		Description  string
		Message      string
		ExpectedType string
		ExpectedKind string
	}{
		{
			Description:  "longest message",
			Message:      strings.Repeat("<", relay.MaxContentLength),
			ExpectedType: relay.EventMessageSent,
		},
		{
			Description:  "one byte too long",
			Message:      strings.Repeat("<", relay.MaxContentLength+1),
			ExpectedType: relay.EventError,
			ExpectedKind: "invalid",
		},
		{
			Description:  "connection still open",
			Message:      "hi",
			ExpectedType: relay.EventMessageSent,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Description, func(t *testing.T) {
			err := alice.WriteJSON(map[string]string{
				"type":     relay.EventSendMessage,
				"receiver": f.ids["bob"],
				"message":  tc.Message,
			})
			if err != nil {
				t.Fatalf("failed to send: %s", err)
			}

			ev := readEvent(t, alice)
			if got, want := ev.Type, tc.ExpectedType; got != want {
				t.Fatalf("unexpected event: got %s want %s (%s)", got, want, ev.Error)
			}
			if got, want := string(ev.Kind), tc.ExpectedKind; got != want {
				t.Fatalf("unexpected kind: got %s want %s", got, want)
			}
		})
	}

	history, err := f.relay.History(context.Background(), f.ids["alice"], f.ids["bob"], types.HistoryQuery{})
	if err != nil {
		t.Fatalf("failed to read history: %s", err)
	}
	if got, want := len(history), 2; got != want {
		t.Fatalf("unexpected history length: got %d want %d", got, want)
	}
	if got, want := len(history[0].Content), relay.MaxContentLength; got != want {
		t.Fatalf("unexpected stored length: got %d want %d", got, want)
	}
}
