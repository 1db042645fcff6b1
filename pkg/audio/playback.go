package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Player is the output endpoint: it owns the speaker and the scheduling
// cursor, and accepts agent audio chunks in arrival order. Chunks are
// appended to an internal buffer that the oto player drains in real
// time, which reproduces the cursor discipline physically: bursts queue
// back-to-back, late chunks begin as soon as they arrive.
type Player struct {
	format Format
	sched  *Scheduler

	otoCtx *oto.Context
	player *oto.Player

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool

	playedBytes    int64
	scheduledBytes int64
}

// NewPlayer opens the speaker for the given format. The oto buffer is
// kept near 100ms so flush-on-reset cuts audio quickly.
func NewPlayer(format Format) (*Player, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	<-ready

	p := &Player{
		format: format,
		sched:  NewScheduler(),
		otoCtx: otoCtx,
		buf:    make([]byte, 0, format.BytesPerSecond()*2),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// ScheduleNext queues one agent audio chunk for gapless playback and
// returns its placement on the timeline. Must be called from the
// session's inbound-audio path only.
func (p *Player) ScheduleNext(c Chunk) Scheduled {
	handle := p.sched.ScheduleNext(c)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return handle
	}
	p.buf = append(p.buf, c.PCM...)
	p.scheduledBytes += int64(len(c.PCM))

	// Start the pull loop lazily on first audio.
	if !p.playing {
		p.playing = true
		p.player = p.otoCtx.NewPlayer(p)
		p.player.Play()
	}
	p.cond.Signal()
	return handle
}

// Read implements io.Reader for oto, which pulls PCM for playback.
// Blocks until data arrives or the player is flushed/closed.
func (p *Player) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buf) == 0 && !p.closed && p.playing {
		p.cond.Wait()
	}

	if len(p.buf) == 0 {
		// Closed or flushed: feed silence so the old oto player drains
		// gracefully instead of blocking here forever.
		for i := range b {
			b[i] = 0
		}
		return len(b), nil
	}

	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	p.playedBytes += int64(n)
	return n, nil
}

// Position reports how much audio has been handed to the device and how
// much is still buffered, for progress display.
func (p *Player) Position() (played, buffered time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.Duration(int(p.playedBytes)), p.format.Duration(len(p.buf))
}

// Flush discards all buffered audio and resets the scheduling cursor.
// Called on session reset so stale agent speech never bleeds into the
// next conversation.
func (p *Player) Flush() {
	p.mu.Lock()
	p.buf = p.buf[:0]
	player := p.player
	p.player = nil
	p.playing = false
	p.cond.Broadcast()
	p.mu.Unlock()

	p.sched.Reset()

	if player != nil {
		player.Pause()
		player.Close()
	}
}

// Close releases the speaker. Safe to call more than once.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	player := p.player
	p.player = nil
	p.mu.Unlock()

	if player != nil {
		player.Close()
	}
}
