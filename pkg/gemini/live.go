package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agrovoice/agrovoice/pkg/live"
	"github.com/agrovoice/agrovoice/pkg/live/protocol"
)

// DefaultLiveEndpoint is the bidirectional streaming endpoint.
const DefaultLiveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"

const handshakeTimeout = 15 * time.Second

// LiveOptions configures transport dialing.
type LiveOptions struct {
	APIKey string

	// Endpoint overrides DefaultLiveEndpoint. Used by tests.
	Endpoint string
}

// NewTransportFactory returns a factory the session calls on every connect
// and reset.
func NewTransportFactory(opts LiveOptions) live.TransportFactory {
	return func(ctx context.Context, cfg live.SessionConfig) (live.Transport, error) {
		return DialLive(ctx, opts, cfg)
	}
}

// LiveTransport is one websocket connection to the live endpoint. It
// implements live.Transport: writes are serialized through a send loop and
// decoded server frames are delivered on Events until the connection drops.
type LiveTransport struct {
	conn      *websocket.Conn
	sendChan  chan []byte
	events    chan any
	doneChan  chan struct{}
	closeOnce sync.Once
}

// DialLive connects, performs the setup handshake, and starts the read and
// write loops.
func DialLive(ctx context.Context, opts LiveOptions, cfg live.SessionConfig) (*LiveTransport, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultLiveEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if opts.APIKey != "" {
		q := u.Query()
		q.Set("key", opts.APIKey)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}

	setup, err := json.Marshal(setupMessage(cfg))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal setup: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	// The first server frame must complete the handshake.
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read setup ack: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode setup ack: %w", err)
	}
	if _, ok := msg.(protocol.SetupComplete); !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake frame %T", msg)
	}

	t := &LiveTransport{
		conn:     conn,
		sendChan: make(chan []byte, 32),
		events:   make(chan any, 32),
		doneChan: make(chan struct{}),
	}
	go t.readMessages()
	go t.writeMessages()
	return t, nil
}

// setupMessage builds the session setup frame: audio-out modality, voice and
// language, search grounding, and the client tool declarations.
func setupMessage(cfg live.SessionConfig) protocol.ClientSetup {
	setup := protocol.Setup{
		Model: "models/" + cfg.Model,
		GenerationConfig: &protocol.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &protocol.SpeechConfig{
				LanguageCode: cfg.Language,
			},
		},
		Tools: []protocol.Tool{
			{GoogleSearch: &protocol.GoogleSearch{}},
			{FunctionDeclarations: []protocol.FunctionDeclaration{
				{
					Name:        live.ToolMarketData,
					Description: "Look up the current wholesale market price and trend for a crop.",
					Parameters: &protocol.Schema{
						Type: "object",
						Properties: map[string]*protocol.Schema{
							"crop":   {Type: "string", Description: "Crop name, e.g. wheat"},
							"market": {Type: "string", Description: "Market or region, optional"},
						},
						Required: []string{"crop"},
					},
				},
				{
					Name:        live.ToolRequestImage,
					Description: "Ask the user to take a photo of their crop for visual inspection. Resolves asynchronously once the user captures an image.",
				},
			}},
		},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig.VoiceConfig = &protocol.VoiceConfig{
			PrebuiltVoiceConfig: &protocol.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
		}
	}
	if cfg.System != "" {
		setup.SystemInstruction = &protocol.Content{
			Parts: []protocol.Part{{Text: cfg.System}},
		}
	}
	return protocol.ClientSetup{Setup: setup}
}

// readMessages decodes inbound frames until the connection drops, then
// closes Events so the session notices.
func (t *LiveTransport) readMessages() {
	defer close(t.events)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, derr := protocol.DecodeServerMessage(data)
		if derr != nil {
			msg = derr
		}
		select {
		case t.events <- msg:
		case <-t.doneChan:
			return
		}
	}
}

// writeMessages owns all writes after the handshake.
func (t *LiveTransport) writeMessages() {
	for {
		select {
		case frame := <-t.sendChan:
			if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-t.doneChan:
			t.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send marshals msg and queues it for the write loop.
func (t *LiveTransport) Send(msg any) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	select {
	case t.sendChan <- frame:
		return nil
	case <-t.doneChan:
		return fmt.Errorf("transport closed")
	}
}

// Events yields decoded server messages. Closed when the connection drops.
func (t *LiveTransport) Events() <-chan any {
	return t.events
}

// Close shuts the connection down. Idempotent.
func (t *LiveTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.doneChan)
		t.conn.Close()
	})
	return nil
}
