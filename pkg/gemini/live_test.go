package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agrovoice/agrovoice/pkg/live"
	"github.com/agrovoice/agrovoice/pkg/live/protocol"
)

var upgrader = websocket.Upgrader{}

// fakeLiveServer accepts one connection, validates the setup frame, answers
// setupComplete, and then relays frames over the inbound/outbound channels.
type fakeLiveServer struct {
	t        *testing.T
	srv      *httptest.Server
	received chan map[string]any
	outbound chan string
	setups   chan map[string]any
	drop     chan struct{}
}

func newFakeLiveServer(t *testing.T) *fakeLiveServer {
	f := &fakeLiveServer{
		t:        t,
		received: make(chan map[string]any, 16),
		outbound: make(chan string, 16),
		setups:   make(chan map[string]any, 1),
		drop:     make(chan struct{}),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var setup map[string]any
		if err := json.Unmarshal(data, &setup); err != nil {
			t.Errorf("setup frame not json: %v", err)
			return
		}
		f.setups <- setup

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
			return
		}

		// Sever the connection on demand; closing the conn unblocks the
		// read loop below.
		handlerDone := make(chan struct{})
		defer close(handlerDone)
		go func() {
			select {
			case <-f.drop:
				conn.Close()
			case <-handlerDone:
			}
		}()

		go func() {
			for frame := range f.outbound {
				if conn.WriteMessage(websocket.TextMessage, []byte(frame)) != nil {
					return
				}
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil {
				f.received <- msg
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeLiveServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// dropConn severs the established connection from the server side.
func (f *fakeLiveServer) dropConn() {
	close(f.drop)
}

func dialTest(t *testing.T, f *fakeLiveServer) *LiveTransport {
	t.Helper()
	cfg := live.DefaultSessionConfig()
	cfg.System = "You are a farming assistant."
	transport, err := DialLive(context.Background(), LiveOptions{APIKey: "test-key", Endpoint: f.wsURL()}, cfg)
	if err != nil {
		t.Fatalf("DialLive() error = %v", err)
	}
	t.Cleanup(func() { transport.Close() })
	return transport
}

func TestDialLive_Handshake(t *testing.T) {
	f := newFakeLiveServer(t)
	dialTest(t, f)

	select {
	case setup := <-f.setups:
		inner, ok := setup["setup"].(map[string]any)
		if !ok {
			t.Fatalf("setup frame = %v", setup)
		}
		if model := inner["model"]; model != "models/"+live.DefaultSessionConfig().Model {
			t.Fatalf("model = %v", model)
		}
		if inner["systemInstruction"] == nil {
			t.Fatal("system instruction missing")
		}
		if inner["tools"] == nil {
			t.Fatal("tool declarations missing")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no setup frame")
	}
}

func TestLiveTransport_DecodesInboundFrames(t *testing.T) {
	f := newFakeLiveServer(t)
	transport := dialTest(t, f)

	f.outbound <- `{"toolCall":{"functionCalls":[{"id":"1","name":"marketData","args":{"crop":"wheat"}}]}}`

	select {
	case msg := <-transport.Events():
		tc, ok := msg.(*protocol.ToolCall)
		if !ok {
			t.Fatalf("event type = %T, want *ToolCall", msg)
		}
		if tc.FunctionCalls[0].ID != "1" {
			t.Fatalf("call = %+v", tc.FunctionCalls[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestLiveTransport_SendsFrames(t *testing.T) {
	f := newFakeLiveServer(t)
	transport := dialTest(t, f)

	if err := transport.Send(protocol.AudioFrame([]byte{1, 2, 3, 4})); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-f.received:
		if msg["realtimeInput"] == nil {
			t.Fatalf("frame = %v, want realtimeInput", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestLiveTransport_EventsClosedOnDrop(t *testing.T) {
	f := newFakeLiveServer(t)
	transport := dialTest(t, f)

	f.dropConn()

	select {
	case _, ok := <-drain(transport.Events()):
		if ok {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after drop")
	}
}

// drain forwards until the source closes, yielding only the close.
func drain(in <-chan any) <-chan any {
	out := make(chan any)
	go func() {
		for range in {
		}
		close(out)
	}()
	return out
}

func TestLiveTransport_SendAfterClose(t *testing.T) {
	f := newFakeLiveServer(t)
	transport := dialTest(t, f)

	transport.Close()
	if err := transport.Send(protocol.AudioFrame([]byte{1})); err == nil {
		t.Fatal("Send after Close should fail")
	}
}
