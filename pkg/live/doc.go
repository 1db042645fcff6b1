// Package live implements the voice session orchestrator: one long-lived
// bidirectional connection to a conversational agent, with microphone audio
// streaming out and spoken responses, tool calls, and search citations
// streaming back in.
//
// # Architecture
//
// The package provides several core components:
//
//   - Session: The orchestrator that owns the transport, serializes inbound
//     events, and coordinates the rest
//   - ContextWindow: Bounded FIFO memory of tool results, replayed as
//     priming whenever a fresh connection is made
//   - ImageRequestBroker: Single-slot mediator for the agent's asynchronous
//     "take a photo" tool call
//   - ToolRegistry + ackQueue: Data-tool dispatch with acknowledgments
//     released in request arrival order
//
// # Data Flow
//
//	Mic frames → Session.SendAudio → Transport → agent
//
//	agent → Transport → Session (one event at a time)
//	          ├── audio chunks  → AudioSink.ScheduleNext (gapless cursor)
//	          ├── tool calls    → ToolRegistry / ImageRequestBroker
//	          └── citations     → Hooks.Citations
//
//	tool results → ContextWindow → (on reset) priming turn for new session
//
// # State Machine
//
//	DISCONNECTED → CONNECTING → LIVE
//	      ↑______________│________│   (reset / transport loss)
//
// CLOSED is terminal and reached only through Close.
//
// # Usage
//
//	tools := live.NewToolRegistry()
//	tools.Register(live.ToolMarketData, marketFn)
//
//	session := live.NewSession(live.DefaultSessionConfig(), dial, tools, player, diagnoser)
//	session.Connect(ctx)
//
//	// Stream microphone frames
//	session.SendAudio(pcm)
//
//	// Receive events
//	for event := range session.Events() {
//	    switch e := event.(type) {
//	    case *live.CaptureRequestedEvent:
//	        openCamera(e.InvocationID)
//	    case *live.ErrorEvent:
//	        fmt.Println("error:", e.Message)
//	    }
//	}
package live
