package live

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agrovoice/agrovoice/pkg/audio"
	"github.com/agrovoice/agrovoice/pkg/live/protocol"
)

// Recognized tool names.
const (
	ToolMarketData   = "marketData"
	ToolRequestImage = "requestImage"
	ToolDiagnose     = "diagnoseCrop"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Transport is one established bidirectional agent connection. Events yields
// decoded server messages and is closed when the connection drops.
type Transport interface {
	Send(msg any) error
	Events() <-chan any
	Close() error
}

// TransportFactory dials a fresh transport. Invoked on every connect and
// reset; the factory owns the handshake.
type TransportFactory func(ctx context.Context, cfg SessionConfig) (Transport, error)

// AudioSink receives agent audio chunks in arrival order.
type AudioSink interface {
	ScheduleNext(c audio.Chunk) audio.Scheduled
	Flush()
}

// Diagnoser analyzes a crop image outside the agent turn. Used for the
// user-initiated capture path.
type Diagnoser interface {
	Diagnose(ctx context.Context, image []byte, language string, snapshot []ContextEntry) (map[string]any, error)
}

// Session is the orchestrator for one live voice conversation. It owns the
// transport, routes inbound server events one at a time in arrival order,
// schedules agent audio for playback, dispatches tool calls, and maintains
// the rolling context window across resets.
type Session struct {
	config  SessionConfig
	factory TransportFactory
	tools   *ToolRegistry
	sink    AudioSink
	diag    Diagnoser

	window *ContextWindow
	broker *ImageRequestBroker
	ackq   ackQueue

	// generation invalidates in-flight work across reset/close: results
	// carrying a stale generation are discarded.
	generation atomic.Uint64

	mu        sync.RWMutex
	state     SessionState
	transport Transport
	sessionID string
	audioSeq  int64

	sendMu sync.Mutex

	hooks  Hooks
	events chan Event
	closed atomic.Bool

	// emitMu serializes event sends against the channel close in Close, so
	// a late emitter can never hit a closed channel.
	emitMu       sync.RWMutex
	eventsClosed bool

	// genCtx cancels in-flight tool calls when the generation it belongs to
	// is torn down.
	genCtx    context.Context
	genCancel context.CancelFunc

	outFormat audio.Format

	debugEnabled bool
	now          func() time.Time
}

// NewSession creates a session. Zero-valued config fields are backfilled
// from DefaultSessionConfig. diag may be nil if the user-initiated capture
// path is unused.
func NewSession(config SessionConfig, factory TransportFactory, tools *ToolRegistry, sink AudioSink, diag Diagnoser) *Session {
	defaults := DefaultSessionConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Language == "" {
		config.Language = defaults.Language
	}
	if config.ContextSize == 0 {
		config.ContextSize = defaults.ContextSize
	}
	if config.InputSampleRate == 0 {
		config.InputSampleRate = defaults.InputSampleRate
	}
	if config.OutputSampleRate == 0 {
		config.OutputSampleRate = defaults.OutputSampleRate
	}
	if config.Channels == 0 {
		config.Channels = defaults.Channels
	}
	if tools == nil {
		tools = NewToolRegistry()
	}

	return &Session{
		config:  config,
		factory: factory,
		tools:   tools,
		sink:    sink,
		diag:    diag,
		window:  NewContextWindow(config.ContextSize),
		broker:  NewImageRequestBroker(),
		state:   StateDisconnected,
		events:  make(chan Event, 100),
		outFormat: audio.Format{
			SampleRate:    config.OutputSampleRate,
			Channels:      config.Channels,
			BitsPerSample: 16,
		},
		now: time.Now,
	}
}

// EnableDebug enables debug event emission.
func (s *Session) EnableDebug() {
	s.debugEnabled = true
}

// SetHooks installs display callbacks. Must be called before Connect.
func (s *Session) SetHooks(hooks Hooks) {
	s.hooks = hooks
}

// SessionID returns the identifier of the current generation's connection.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Events returns the channel for receiving session events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// ContextSnapshot returns a copy of the rolling context window, oldest first.
func (s *Session) ContextSnapshot() []ContextEntry {
	return s.window.Snapshot()
}

// ClearContext empties the context window.
func (s *Session) ClearContext() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.window.Clear()
	s.emit(&ContextChangedEvent{Entries: nil})
	return nil
}

// CapturePending reports whether an agent image request is waiting.
func (s *Session) CapturePending() bool {
	return s.broker.Pending()
}

// Connect opens a fresh transport primed with the current context snapshot.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if s.state == StateLive || s.state == StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("session already connected")
	}
	s.mu.Unlock()

	s.setState(StateConnecting)
	s.emit(&StatusEvent{Text: "Connecting..."})

	snapshot := s.window.Snapshot()

	transport, err := s.factory(ctx, s.config)
	if err != nil {
		s.setState(StateDisconnected)
		s.emit(&ErrorEvent{Code: "transport_error", Message: "connect failed: " + err.Error()})
		return fmt.Errorf("connect: %w", err)
	}

	if text := PrimingText(snapshot); text != "" {
		if err := transport.Send(protocol.TextTurn(text)); err != nil {
			transport.Close()
			s.setState(StateDisconnected)
			s.emit(&ErrorEvent{Code: "transport_error", Message: "priming failed: " + err.Error()})
			return fmt.Errorf("send priming: %w", err)
		}
		s.debug("SESSION", fmt.Sprintf("Primed with %d context entries", len(snapshot)))
	}

	gen := s.generation.Load()
	sessionID := uuid.NewString()
	genCtx, genCancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.transport = transport
	s.sessionID = sessionID
	s.genCtx = genCtx
	s.genCancel = genCancel
	s.mu.Unlock()

	s.setState(StateLive)
	s.emit(&SessionConnectedEvent{
		SessionID:    sessionID,
		Model:        s.config.Model,
		ContextSize:  s.config.ContextSize,
		PrimedWith:   len(snapshot),
		SampleRateIn: s.config.InputSampleRate,
	})
	s.emit(&StatusEvent{Text: "Live. Start speaking."})

	go s.readLoop(gen, transport)
	return nil
}

// readLoop serializes inbound event handling for one transport generation.
func (s *Session) readLoop(gen uint64, transport Transport) {
	for msg := range transport.Events() {
		if s.generation.Load() != gen {
			return
		}
		s.handleInbound(gen, msg)
	}

	// Channel closed: the transport dropped. Recovery is an explicit reset.
	if s.generation.Load() != gen || s.closed.Load() {
		return
	}
	s.setState(StateDisconnected)
	s.emit(&ErrorEvent{Code: "transport_error", Message: "connection lost; reset to reconnect"})
}

// SendAudio forwards one microphone frame to the agent. Frames sent while
// the session is not live are dropped, not queued, so a stale capture path
// cannot feed audio into a fresh conversation.
func (s *Session) SendAudio(frame []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.RLock()
	state := s.state
	transport := s.transport
	s.mu.RUnlock()

	if state != StateLive || transport == nil {
		return nil
	}
	return s.send(transport, protocol.AudioFrame(frame))
}

// SendText sends a discrete text turn to the agent.
func (s *Session) SendText(text string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.RLock()
	state := s.state
	transport := s.transport
	s.mu.RUnlock()

	if state != StateLive || transport == nil {
		return fmt.Errorf("session not live")
	}
	return s.send(transport, protocol.TextTurn(text))
}

// Reset tears down the current connection and reconnects with a fresh
// context snapshot. In-flight tool results and any pending image request are
// discarded.
func (s *Session) Reset(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.debug("SESSION", "Reset requested")
	s.teardown()
	s.emit(&StatusEvent{Text: "Session reset"})
	return s.Connect(ctx)
}

// teardown invalidates the current generation and releases the transport.
func (s *Session) teardown() {
	s.generation.Add(1)
	s.ackq.reset()

	if id, ok := s.broker.Cancel(); ok {
		s.debug("IMAGE", "Discarding pending capture "+id)
		s.loading(false, ToolRequestImage)
	}

	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.audioSeq = 0
	genCancel := s.genCancel
	s.genCancel = nil
	s.mu.Unlock()

	if genCancel != nil {
		genCancel()
	}
	if transport != nil {
		transport.Close()
	}
	if s.sink != nil {
		s.sink.Flush()
	}
	s.setState(StateDisconnected)
}

// Close shuts down the session. Terminal.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.debug("SESSION", "Closing session")
	s.teardown()
	s.setState(StateClosed)
	s.emit(&SessionClosedEvent{Reason: "closed"})

	s.emitMu.Lock()
	s.eventsClosed = true
	close(s.events)
	s.emitMu.Unlock()
	return nil
}

// handleInbound dispatches one decoded server message. Called only from the
// readLoop, one message at a time.
func (s *Session) handleInbound(gen uint64, msg any) {
	switch m := msg.(type) {
	case protocol.SetupComplete:
		s.debug("TRANSPORT", "Setup complete")

	case *protocol.ServerContent:
		s.handleServerContent(m)

	case *protocol.ToolCall:
		for _, call := range m.FunctionCalls {
			s.handleToolCall(gen, call)
		}

	case *protocol.ToolCallCancellation:
		for _, id := range m.IDs {
			if s.broker.PendingID() == id {
				s.broker.Cancel()
				s.loading(false, ToolRequestImage)
				s.debug("IMAGE", "Agent cancelled capture "+id)
			}
		}

	case *protocol.GoAway:
		s.emit(&StatusEvent{Text: "Server is closing the connection (" + m.TimeLeft + ")"})

	case error:
		s.emit(&ErrorEvent{Code: "protocol_error", Message: m.Error()})

	default:
		s.debug("TRANSPORT", fmt.Sprintf("Ignoring %T", msg))
	}
}

// handleServerContent schedules audio, surfaces citations, and tracks turn
// boundaries.
func (s *Session) handleServerContent(sc *protocol.ServerContent) {
	if sc.Interrupted {
		s.debug("AUDIO", "Turn interrupted, flushing playback")
		if s.sink != nil {
			s.sink.Flush()
		}
	}

	chunks, err := sc.AudioData()
	if err != nil {
		s.emit(&ErrorEvent{Code: "protocol_error", Message: err.Error()})
	}
	for _, pcm := range chunks {
		s.mu.Lock()
		if s.state != StateLive {
			s.mu.Unlock()
			break
		}
		seq := s.audioSeq
		s.audioSeq++
		s.mu.Unlock()

		chunk := audio.Chunk{PCM: pcm, Format: s.outFormat, Seq: seq}
		sched := s.sink.ScheduleNext(chunk)
		s.emit(&AudioScheduledEvent{
			Seq:     seq,
			Bytes:   len(pcm),
			StartAt: sched.StartAt,
			Gap:     sched.Gap,
		})
	}

	if citations := sc.Citations(); len(citations) > 0 {
		s.emit(&CitationsEvent{Citations: citations})
	}

	if sc.TurnComplete {
		s.emit(&TurnCompleteEvent{})
	}
}

// handleToolCall routes one function call: the image tool goes through the
// broker; data tools run asynchronously with arrival-ordered acknowledgments.
func (s *Session) handleToolCall(gen uint64, call protocol.FunctionCall) {
	s.emit(&ToolCallEvent{InvocationID: call.ID, Name: call.Name, Args: call.Args})
	s.debug("TOOL", fmt.Sprintf("Call %s (%s)", call.Name, call.ID))

	if call.Name == ToolRequestImage {
		if err := s.broker.Request(call.ID); err != nil {
			// Second concurrent request: reject immediately so the agent's
			// turn does not stall on a slot it can never get.
			s.sendAck(gen, Ack{
				InvocationID: call.ID,
				Name:         call.Name,
				Response:     map[string]any{"error": "an image capture is already pending"},
				IsError:      true,
			})
			return
		}
		s.loading(true, call.Name)
		s.emit(&CaptureRequestedEvent{InvocationID: call.ID})
		return
	}

	fn, ok := s.tools.Lookup(call.Name)
	if !ok {
		slot := s.ackq.add(call.ID, call.Name)
		ready := s.ackq.complete(slot, map[string]any{"error": "unknown tool: " + call.Name}, true)
		s.sendAcks(gen, ready)
		return
	}

	s.loading(true, call.Name)
	slot := s.ackq.add(call.ID, call.Name)
	snapshot := s.window.Snapshot()

	s.mu.RLock()
	toolCtx := s.genCtx
	s.mu.RUnlock()
	if toolCtx == nil {
		toolCtx = context.Background()
	}

	go func() {
		resp, err := fn(toolCtx, call.Args, snapshot)
		isError := err != nil
		if isError {
			resp = errResponse(err)
		}

		if s.generation.Load() != gen {
			s.debug("TOOL", fmt.Sprintf("Discarding stale result for %s (%s)", call.Name, call.ID))
			return
		}

		s.window.Append(ContextEntry{Tool: call.Name, Payload: resp, IsError: isError, At: s.now()})
		s.emitContextChanged(resp)

		ready := s.ackq.complete(slot, resp, isError)
		s.sendAcks(gen, ready)

		if s.ackq.outstanding() == 0 {
			s.loading(false, call.Name)
		}
	}()
}

// ResolveCapture delivers a captured image. With a pending agent request the
// image is sent back on the transport keyed by the stored invocation id; with
// no pending request this is a user-initiated capture and the image goes
// straight to the diagnosis tool.
func (s *Session) ResolveCapture(ctx context.Context, image []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	gen := s.generation.Load()

	if id, ok := s.broker.Resolve(); ok {
		s.debug("IMAGE", "Resolving agent capture "+id)
		ack := Ack{
			InvocationID: id,
			Name:         ToolRequestImage,
			Response: map[string]any{
				"mimeType": protocol.ImageMIMEType,
				"data":     protocol.NewBlob(protocol.ImageMIMEType, image).Data,
			},
		}
		s.sendAck(gen, ack)
		s.loading(false, ToolRequestImage)
		return nil
	}

	if s.diag == nil {
		return fmt.Errorf("no diagnoser configured")
	}

	s.loading(true, ToolDiagnose)
	defer s.loading(false, ToolDiagnose)

	resp, err := s.diag.Diagnose(ctx, image, s.config.Language, s.window.Snapshot())
	isError := err != nil
	if isError {
		resp = errResponse(err)
	}
	if s.generation.Load() != gen {
		s.debug("TOOL", "Discarding stale diagnosis result")
		if isError {
			return err
		}
		return nil
	}

	s.window.Append(ContextEntry{Tool: ToolDiagnose, Payload: resp, IsError: isError, At: s.now()})
	s.emitContextChanged(resp)
	if isError {
		s.emit(&ErrorEvent{Code: "tool_error", Message: "diagnosis failed: " + err.Error()})
		return err
	}
	return nil
}

// CancelCapture dismisses a pending agent image request, acknowledging the
// stored invocation id with an error so the agent's turn can proceed.
func (s *Session) CancelCapture() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	id, ok := s.broker.Cancel()
	if !ok {
		return nil
	}
	s.debug("IMAGE", "Capture dismissed for "+id)
	s.sendAck(s.generation.Load(), Ack{
		InvocationID: id,
		Name:         ToolRequestImage,
		Response:     map[string]any{"error": "capture dismissed by user"},
		IsError:      true,
	})
	s.loading(false, ToolRequestImage)
	return nil
}

// sendAcks sends released acknowledgments in arrival order.
func (s *Session) sendAcks(gen uint64, acks []Ack) {
	for _, ack := range acks {
		s.sendAck(gen, ack)
	}
}

// sendAck sends one tool acknowledgment unless the generation has moved on.
func (s *Session) sendAck(gen uint64, ack Ack) {
	if s.generation.Load() != gen {
		return
	}

	s.mu.RLock()
	transport := s.transport
	s.mu.RUnlock()
	if transport == nil {
		return
	}

	msg := protocol.ClientToolResponse{ToolResponse: protocol.ToolResponse{
		FunctionResponses: []protocol.FunctionResponse{{
			ID:       ack.InvocationID,
			Name:     ack.Name,
			Response: ack.Response,
		}},
	}}
	if err := s.send(transport, msg); err != nil {
		s.emit(&ErrorEvent{Code: "transport_error", Message: "tool ack failed: " + err.Error()})
		return
	}
	s.emit(&ToolResultEvent{InvocationID: ack.InvocationID, Name: ack.Name, IsError: ack.IsError, Duration: ack.Duration})
}

// send serializes writes to the transport.
func (s *Session) send(transport Transport, msg any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return transport.Send(msg)
}

// emitContextChanged publishes the new snapshot, surfacing the latest
// summary if the result carries one.
func (s *Session) emitContextChanged(latest map[string]any) {
	summary := ""
	if v, ok := latest["summary"].(string); ok {
		summary = v
	}
	s.emit(&ContextChangedEvent{Entries: s.window.Snapshot(), Summary: summary})
}

// loading notifies the display hook about tool activity.
func (s *Session) loading(active bool, toolName string) {
	if s.hooks.Loading != nil {
		s.hooks.Loading(active, toolName)
	}
}

// setState updates the session state and emits an event.
func (s *Session) setState(newState SessionState) {
	s.mu.Lock()
	oldState := s.state
	if oldState == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = newState
	s.mu.Unlock()

	if oldState != newState {
		s.debug("SESSION", fmt.Sprintf("State: %s -> %s", oldState, newState))
		s.emit(&StateChangedEvent{From: oldState, To: newState})
	}
}

// emit sends an event to the events channel and mirrors it onto the matching
// display hook.
func (s *Session) emit(event Event) {
	s.emitMu.RLock()
	if !s.eventsClosed {
		select {
		case s.events <- event:
		default:
			// Channel full, drop event
		}
	}
	s.emitMu.RUnlock()

	switch e := event.(type) {
	case *StatusEvent:
		if s.hooks.Status != nil {
			s.hooks.Status(e.Text)
		}
	case *ErrorEvent:
		if s.hooks.Error != nil {
			s.hooks.Error(e.Message)
		}
	case *CitationsEvent:
		if s.hooks.Citations != nil {
			s.hooks.Citations(e.Citations)
		}
	case *ContextChangedEvent:
		if s.hooks.ContextChanged != nil {
			s.hooks.ContextChanged(e.Entries, e.Summary)
		}
	case *CaptureRequestedEvent:
		if s.hooks.CaptureOpen != nil {
			s.hooks.CaptureOpen(e.InvocationID)
		}
	}
}

// debug logs a debug message if debug mode is enabled.
// Logs are printed to stderr with timestamps for visibility.
func (s *Session) debug(category, message string) {
	if s.debugEnabled {
		timestamp := s.now().Format("15:04:05.000")
		fmt.Fprintf(os.Stderr, "\033[90m%s\033[0m [\033[36m%-9s\033[0m] %s\n", timestamp, category, message)

		s.emit(&DebugEvent{Category: category, Message: message})
	}
}
