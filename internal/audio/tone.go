package audio

import (
	"math"
	"sync"
	"time"
)

// ToneCapture is a Capture that synthesizes a sine tone. It stands in for
// the OS loopback device in tests and in the CLI's --tone mode.
type ToneCapture struct {
	frames chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewToneCapture generates count frames of a sine tone at the given
// frequency. When interval is non-zero, frames are paced at that period
// (use FrameDuration for real-time pacing); when zero, they are produced
// as fast as the consumer drains them.
func NewToneCapture(freq float64, amplitude int16, count int, interval time.Duration) *ToneCapture {
	c := &ToneCapture{
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(c.frames)

		var ticker *time.Ticker
		if interval > 0 {
			ticker = time.NewTicker(interval)
			defer ticker.Stop()
		}

		phase := 0.0
		step := 2 * math.Pi * freq / SampleRate

		for i := 0; i < count; i++ {
			frame := make([]byte, FrameSize)
			for s := 0; s < FrameSamples/Channels; s++ {
				v := int16(float64(amplitude) * math.Sin(phase))
				phase += step

				// Same sample on both channels.
				for ch := 0; ch < Channels; ch++ {
					idx := (s*Channels + ch) * BytesPerSample
					frame[idx] = byte(uint16(v))
					frame[idx+1] = byte(uint16(v) >> 8)
				}
			}

			if ticker != nil {
				select {
				case <-ticker.C:
				case <-c.done:
					return
				}
			}

			select {
			case c.frames <- frame:
			case <-c.done:
				return
			}
		}
	}()

	return c
}

// Frames returns the tone frame stream.
func (c *ToneCapture) Frames() <-chan []byte {
	return c.frames
}

// Close stops generation. The frame channel closes shortly after.
func (c *ToneCapture) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
