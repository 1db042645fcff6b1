package audio

import (
	"testing"
	"time"
)

// fakeClock advances only when told, so schedule math is deterministic.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestScheduler(clock *fakeClock) *Scheduler {
	s := NewScheduler()
	s.now = clock.Now
	return s
}

func chunkOf(ms int, seq int64) Chunk {
	f := DefaultOutputFormat()
	return Chunk{
		PCM:    make([]byte, f.BytesFor(time.Duration(ms)*time.Millisecond)),
		Format: f,
		Seq:    seq,
	}
}

func TestScheduler_BurstQueuesBackToBack(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	s := newTestScheduler(clock)

	// Three chunks arriving instantly, faster than real time.
	durations := []int{120, 80, 200}
	var prev Scheduled
	var prevDur time.Duration
	for i, ms := range durations {
		c := chunkOf(ms, int64(i))
		got := s.ScheduleNext(c)

		if i > 0 {
			if got.StartAt.Before(prev.StartAt) {
				t.Fatalf("chunk %d starts at %v, before chunk %d at %v", i, got.StartAt, i-1, prev.StartAt)
			}
			want := prev.StartAt.Add(prevDur)
			if !got.StartAt.Equal(want) {
				t.Errorf("chunk %d start = %v, want back-to-back at %v", i, got.StartAt, want)
			}
			if got.Gap != 0 {
				t.Errorf("chunk %d gap = %v, want 0 in a burst", i, got.Gap)
			}
		}
		prev = got
		prevDur = c.Duration()
	}
}

func TestScheduler_LateChunkStartsNow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	s := newTestScheduler(clock)

	first := s.ScheduleNext(chunkOf(100, 0))
	if !first.StartAt.Equal(clock.Now()) {
		t.Fatalf("first chunk start = %v, want now %v", first.StartAt, clock.Now())
	}
	if first.Gap != 0 {
		t.Errorf("first chunk gap = %v, want 0", first.Gap)
	}

	// Second chunk arrives 250ms later, 150ms after the first finished.
	clock.Advance(250 * time.Millisecond)
	second := s.ScheduleNext(chunkOf(100, 1))
	if !second.StartAt.Equal(clock.Now()) {
		t.Errorf("late chunk start = %v, want now %v", second.StartAt, clock.Now())
	}
	if second.Gap != 150*time.Millisecond {
		t.Errorf("late chunk gap = %v, want 150ms", second.Gap)
	}
}

func TestScheduler_NoOverlapUnderArbitraryArrival(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	s := newTestScheduler(clock)

	// Mixed arrival pattern: bursts, on-time, and late chunks.
	arrivals := []struct {
		advanceMS int
		durMS     int
	}{
		{0, 100}, {0, 50}, {0, 50}, // burst
		{200, 80},                  // on time
		{500, 40},                  // late
		{10, 40}, {10, 40},         // faster than real time again
	}

	var starts []time.Time
	var durs []time.Duration
	for i, a := range arrivals {
		clock.Advance(time.Duration(a.advanceMS) * time.Millisecond)
		c := chunkOf(a.durMS, int64(i))
		got := s.ScheduleNext(c)
		starts = append(starts, got.StartAt)
		durs = append(durs, c.Duration())
	}

	for i := 1; i < len(starts); i++ {
		if starts[i].Before(starts[i-1]) {
			t.Errorf("start[%d]=%v precedes start[%d]=%v", i, starts[i], i-1, starts[i-1])
		}
		earliest := starts[i-1].Add(durs[i-1])
		if starts[i].Before(earliest) {
			t.Errorf("chunk %d overlaps its predecessor: start=%v, predecessor ends %v", i, starts[i], earliest)
		}
	}
}

func TestScheduler_ResetClearsCursor(t *testing.T) {
	clock := &fakeClock{t: time.Unix(50, 0)}
	s := newTestScheduler(clock)

	s.ScheduleNext(chunkOf(500, 0))
	if s.Pending() == 0 {
		t.Fatal("expected pending audio after scheduling")
	}

	s.Reset()
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending after Reset = %v, want 0", got)
	}

	got := s.ScheduleNext(chunkOf(100, 1))
	if !got.StartAt.Equal(clock.Now()) {
		t.Errorf("post-reset chunk start = %v, want now %v", got.StartAt, clock.Now())
	}
}

func TestFormat_DurationRoundTrip(t *testing.T) {
	f := DefaultOutputFormat()

	tests := []struct {
		ms int
	}{
		{20}, {100}, {1000},
	}
	for _, tt := range tests {
		d := time.Duration(tt.ms) * time.Millisecond
		n := f.BytesFor(d)
		if n%2 != 0 {
			t.Errorf("BytesFor(%v) = %d, not sample-aligned", d, n)
		}
		if got := f.Duration(n); got != d {
			t.Errorf("Duration(BytesFor(%v)) = %v", d, got)
		}
	}
}
