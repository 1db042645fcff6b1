// Command agrovoice runs a live voice advisory session from the terminal.
//
// The microphone streams to the agent while it is unmuted; agent speech is
// scheduled for gapless playback as it arrives. The agent can call data
// tools (market prices via search grounding) and ask for a crop photo,
// which the operator supplies from a file on disk.
//
// Usage:
//
//	agrovoice [flags]
//
// Environment variables:
//
//	GEMINI_API_KEY - required
//
// Keys:
//
//	space  toggle microphone on/off
//	p      capture a photo (answers a pending agent request, or runs a
//	       local diagnosis when none is pending)
//	x      dismiss a pending photo request
//	r      reset the session (context carries over)
//	c      clear the context window
//	q      quit
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/agrovoice/agrovoice/pkg/audio"
	"github.com/agrovoice/agrovoice/pkg/gemini"
	"github.com/agrovoice/agrovoice/pkg/live"
	"github.com/agrovoice/agrovoice/pkg/live/protocol"
	"github.com/agrovoice/agrovoice/pkg/metrics"
)

const defaultSystemPrompt = `You are a field advisor for smallholder farmers, speaking over live voice. Keep answers short and conversational. Use the marketData tool for current crop prices, and the requestImage tool when you need to see the crop to advise. If earlier findings from this conversation are provided, treat them as established context.`

func main() {
	_ = godotenv.Load()

	var (
		model       = flag.String("model", "", "live agent model (default from session config)")
		language    = flag.String("lang", "en-US", "BCP-47 language code for speech and tool output")
		voice       = flag.String("voice", "", "prebuilt voice name")
		imagePath   = flag.String("image", "crop.jpg", "photo file sent when a capture is taken")
		metricsAddr = flag.String("metrics", "", "listen address for Prometheus metrics (empty = disabled)")
		debug       = flag.Bool("debug", false, "print debug events to stderr")
	)
	flag.Parse()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY required")
	}

	cfg := live.DefaultSessionConfig()
	cfg.System = defaultSystemPrompt
	cfg.Language = *language
	if *model != "" {
		cfg.Model = *model
	}
	if *voice != "" {
		cfg.Voice = *voice
	}

	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║                  AgroVoice Field Advisor                   ║")
	fmt.Println("╠════════════════════════════════════════════════════════════╣")
	fmt.Println("║  Press space to talk. The advisor hears you while the mic  ║")
	fmt.Println("║  is on and replies in voice.                               ║")
	fmt.Println("║                                                            ║")
	fmt.Println("║  Keys:                                                     ║")
	fmt.Println("║    space   Toggle microphone                               ║")
	fmt.Println("║    p       Take a photo    x   Dismiss photo request       ║")
	fmt.Println("║    r       Reset session   c   Clear saved findings        ║")
	fmt.Println("║    q       Quit                                            ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	mets := metrics.NewMetrics("")
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", mets.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	client, err := gemini.NewClient(apiKey, cfg.Model)
	if err != nil {
		log.Fatalf("Failed to create API client: %v", err)
	}
	defer client.Close()

	tools := live.NewToolRegistry()
	tools.Register(live.ToolMarketData, client.MarketDataTool())

	outFormat := audio.Format{
		SampleRate:    cfg.OutputSampleRate,
		Channels:      cfg.Channels,
		BitsPerSample: 16,
	}
	player, err := audio.NewPlayer(outFormat)
	if err != nil {
		log.Fatalf("Failed to open speaker: %v", err)
	}
	defer player.Close()

	factory := gemini.NewTransportFactory(gemini.LiveOptions{APIKey: apiKey})
	session := live.NewSession(cfg, factory, tools, player, client)
	if *debug {
		session.EnableDebug()
	}
	session.SetHooks(live.Hooks{
		Status: func(text string) { fmt.Printf("\r\033[K[STATUS] %s\n", text) },
		Error:  func(text string) { fmt.Printf("\r\033[K[ERROR] %s\n", text) },
		Loading: func(active bool, toolName string) {
			if active {
				fmt.Printf("\r\033[K[TOOL] %s running...\n", toolName)
			}
		},
		Citations: func(citations []protocol.GroundingWeb) {
			for _, c := range citations {
				fmt.Printf("\r\033[K[SOURCE] %s (%s)\n", c.Title, c.URI)
			}
		},
		ContextChanged: func(entries []live.ContextEntry, summary string) {
			if summary != "" {
				fmt.Printf("\r\033[K[FINDING] %s\n", summary)
			}
			fmt.Printf("\r\033[K[CONTEXT] %d saved finding(s)\n", len(entries))
		},
		CaptureOpen: func(invocationID string) {
			fmt.Print("\r\033[K[PHOTO] The advisor wants to see the crop. Press p to send a photo, x to dismiss.\n")
		},
	})
	defer session.Close()

	go watchEvents(session, mets)

	started := time.Now()
	mets.RecordSessionStart()
	defer func() {
		mets.RecordSessionEnd(cfg.Model, "closed", time.Since(started))
	}()

	if err := session.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	capture := audio.NewCapture(audio.Format{
		SampleRate:    cfg.InputSampleRate,
		Channels:      cfg.Channels,
		BitsPerSample: 16,
	})
	capture.SetSink(func(pcm []byte) error {
		mets.RecordAudio("in", len(pcm))
		return session.SendAudio(pcm)
	})
	defer capture.Stop()

	runKeyLoop(ctx, cancel, session, capture, *imagePath)
}

// watchEvents drains the session event stream, feeding metrics and the
// debug log. Display is handled by hooks; this loop must keep reading so
// the channel never backs up.
func watchEvents(session *live.Session, mets *metrics.Metrics) {
	for event := range session.Events() {
		switch e := event.(type) {
		case *live.AudioScheduledEvent:
			mets.RecordAudio("out", e.Bytes)
			if e.Gap > 0 {
				mets.RecordPlaybackGap()
			}
		case *live.ToolResultEvent:
			status := "ok"
			if e.IsError {
				status = "error"
			}
			mets.RecordToolCall(e.Name, status, e.Duration)
		case *live.ErrorEvent:
			mets.RecordError(e.Code)
		}
	}
}

// runKeyLoop reads single keys in raw mode when stdin is a terminal, and
// falls back to line commands otherwise (useful under a pipe).
func runKeyLoop(ctx context.Context, cancel context.CancelFunc, session *live.Session, capture *audio.Capture, imagePath string) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		runLineLoop(ctx, session, capture, imagePath)
		return
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		log.Printf("raw mode unavailable, using line input: %v", err)
		runLineLoop(ctx, session, capture, imagePath)
		return
	}
	defer term.Restore(fd, oldState)

	keys := make(chan byte, 8)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				close(keys)
				return
			}
			if n > 0 {
				keys <- buf[0]
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-keys:
			if !ok {
				return
			}
			if key == 'q' || key == 0x03 || key == 0x1b {
				cancel()
				return
			}
			handleKey(ctx, session, capture, imagePath, key)
		}
	}
}

// runLineLoop accepts the same commands one per line.
func runLineLoop(ctx context.Context, session *live.Session, capture *audio.Capture, imagePath string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.ToLower(input) == "q" {
			return
		}
		handleKey(ctx, session, capture, imagePath, input[0])
	}
}

func handleKey(ctx context.Context, session *live.Session, capture *audio.Capture, imagePath string, key byte) {
	switch key {
	case ' ':
		if capture.Started() {
			capture.Stop()
			fmt.Print("\r\033[K[MIC] off\n")
			return
		}
		if err := capture.Start(); err != nil {
			fmt.Printf("\r\033[K[ERROR] Microphone: %v\n", err)
			return
		}
		fmt.Print("\r\033[K[MIC] on\n")

	case 'p':
		image, err := os.ReadFile(imagePath)
		if err != nil {
			fmt.Printf("\r\033[K[ERROR] Read photo: %v\n", err)
			return
		}
		fmt.Printf("\r\033[K[PHOTO] Sending %s (%d bytes)\n", imagePath, len(image))
		go func() {
			if err := session.ResolveCapture(ctx, image); err != nil {
				fmt.Printf("\r\033[K[ERROR] Photo: %v\n", err)
			}
		}()

	case 'x':
		if !session.CapturePending() {
			fmt.Print("\r\033[K[PHOTO] Nothing to dismiss\n")
			return
		}
		if err := session.CancelCapture(); err != nil {
			fmt.Printf("\r\033[K[ERROR] Dismiss: %v\n", err)
			return
		}
		fmt.Print("\r\033[K[PHOTO] Dismissed\n")

	case 'r':
		fmt.Print("\r\033[K[SESSION] Resetting...\n")
		if err := session.Reset(ctx); err != nil {
			fmt.Printf("\r\033[K[ERROR] Reset: %v\n", err)
		}

	case 'c':
		if err := session.ClearContext(); err != nil {
			fmt.Printf("\r\033[K[ERROR] Clear: %v\n", err)
			return
		}
		fmt.Print("\r\033[K[CONTEXT] Cleared\n")
	}
}
