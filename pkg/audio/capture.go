package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// CaptureErrorKind classifies microphone acquisition failures.
type CaptureErrorKind string

const (
	// CaptureDenied means the OS refused access to the device.
	CaptureDenied CaptureErrorKind = "denied"
	// CaptureUnavailable means no usable capture device exists.
	CaptureUnavailable CaptureErrorKind = "unavailable"
)

// CaptureError is returned by Capture.Start when the microphone cannot
// be acquired.
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture device %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// FrameSink receives captured PCM frames. A sink returning an error
// signals the session is gone; the frame is dropped, never queued.
type FrameSink func(pcm []byte) error

// Capture owns the microphone. While started it pushes fixed-cadence
// PCM frames into the sink at the device's native pace. Frames arriving
// after Stop, or rejected by the sink, are dropped on the floor so a
// reset session never hears stale audio.
type Capture struct {
	format Format

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	sink    FrameSink
	started bool
}

// NewCapture prepares a capture controller for the given format. The
// device itself is not touched until Start.
func NewCapture(format Format) *Capture {
	return &Capture{format: format}
}

// SetSink installs the destination for captured frames. May be swapped
// while running (e.g. after a session reset).
func (c *Capture) SetSink(sink FrameSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Start acquires the microphone and begins pushing frames. Returns a
// *CaptureError when the device cannot be opened. Calling Start while
// already started is a no-op.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return classifyCaptureErr(err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.format.Channels)
	deviceConfig.SampleRate = uint32(c.format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			c.mu.Lock()
			sink := c.sink
			started := c.started
			c.mu.Unlock()
			if !started || sink == nil || len(pInputSamples) == 0 {
				return
			}
			frame := make([]byte, len(pInputSamples))
			copy(frame, pInputSamples)
			// Sink errors mean the session is closed; drop silently.
			_ = sink(frame)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return classifyCaptureErr(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return classifyCaptureErr(err)
	}

	c.ctx = mctx
	c.device = device
	c.started = true
	return nil
}

// Stop releases the microphone. Idempotent. The device is stopped outside
// c.mu: miniaudio's stop waits for the audio thread, and the data callback
// takes the same lock.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	device := c.device
	mctx := c.ctx
	c.device = nil
	c.ctx = nil
	c.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if mctx != nil {
		_ = mctx.Uninit()
	}
}

// Started reports whether the microphone is currently capturing.
func (c *Capture) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func classifyCaptureErr(err error) *CaptureError {
	kind := CaptureUnavailable
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		kind = CaptureDenied
	}
	return &CaptureError{Kind: kind, Err: err}
}
