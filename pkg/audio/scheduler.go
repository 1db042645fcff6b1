package audio

import (
	"sync"
	"time"
)

// Chunk is one unit of agent-produced speech: raw PCM samples plus the
// order in which it arrived on the session's inbound stream.
type Chunk struct {
	PCM    []byte
	Format Format
	Seq    int64
}

// Duration returns the playback duration of the chunk.
func (c Chunk) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

// Scheduled reports where a chunk was placed on the playback timeline.
type Scheduled struct {
	// StartAt is the absolute time the chunk begins playing.
	StartAt time.Time

	// Gap is how long the output sat idle before this chunk; zero when
	// the chunk was appended back-to-back behind already-queued audio.
	Gap time.Duration

	Seq int64
}

// Scheduler places agent audio chunks on a single shared timeline so
// playback is gapless and non-overlapping. It keeps one cursor, the
// earliest instant a new chunk may begin, and advances it by each
// chunk's duration:
//
//	start = max(now, cursor)
//	cursor = start + duration
//
// Chunks arriving faster than real time queue back-to-back; chunks
// arriving late start immediately, and the silence in between is
// reported as Gap. Callers must schedule from a single goroutine per
// session; the mutex only protects the cursor against Reset from
// another goroutine.
type Scheduler struct {
	mu     sync.Mutex
	cursor time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// NewScheduler returns a scheduler with an unset cursor; the first
// chunk plays immediately.
func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Now}
}

// ScheduleNext places the chunk on the timeline and advances the cursor.
func (s *Scheduler) ScheduleNext(c Chunk) Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	start := s.cursor
	var gap time.Duration
	if start.Before(now) {
		gap = now.Sub(start)
		if s.cursor.IsZero() {
			gap = 0
		}
		start = now
	}
	s.cursor = start.Add(c.Duration())
	return Scheduled{StartAt: start, Gap: gap, Seq: c.Seq}
}

// Pending returns how much scheduled audio lies beyond now.
func (s *Scheduler) Pending() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor.IsZero() {
		return 0
	}
	d := s.cursor.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Reset clears the cursor so the next chunk plays immediately. Called
// when buffered audio is flushed on session reset.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cursor = time.Time{}
	s.mu.Unlock()
}
