// Package audio owns the two endpoints of the voice path: microphone
// capture (malgo) and speaker playback (oto), plus the scheduling
// discipline that keeps agent audio gapless and in order.
package audio

import "time"

// Format specifies raw PCM parameters. All audio in and out of the
// session is 16-bit signed little-endian PCM.
type Format struct {
	// SampleRate in Hz. The agent speaks at 24000; the mic captures at 16000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultInputFormat is the microphone capture format expected by the agent.
func DefaultInputFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// DefaultOutputFormat is the format of agent-produced speech.
func DefaultOutputFormat() Format {
	return Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the audio byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// Duration returns the playback duration of the given byte count.
func (f Format) Duration(bytes int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// BytesFor returns the byte count covering d, rounded down to a whole sample.
func (f Format) BytesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	align := f.Channels * (f.BitsPerSample / 8)
	if align > 0 {
		n -= n % align
	}
	return n
}
