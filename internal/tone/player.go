// Package tone synthesizes call-progress tones as G.711 u-law frames.
package tone

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/zaf/g711"
)

const (
	// SampleRate is the G.711 clock rate.
	SampleRate = 8000
	// FrameDuration is the length of one written frame.
	FrameDuration = 20 * time.Millisecond
	// FrameSamples is the number of samples in one frame.
	FrameSamples = SampleRate * int(FrameDuration/time.Millisecond) / 1000

	// EmergencyFrequencyHz is the frequency of the CDMA emergency alert tone.
	// 1200 Hz fits exactly 24 cycles in a frame, so one frame loops without
	// a discontinuity.
	EmergencyFrequencyHz = 1200
	emergencyAmplitude   = 0.5
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("tone player closed")

// Option configures a Player.
type Option func(*Player)

// WithFrameInterval overrides the pacing between frames.
func WithFrameInterval(d time.Duration) Option {
	return func(p *Player) { p.interval = d }
}

// Player writes a continuous tone to a sink, one u-law frame per interval,
// between Start and Stop. It may be started and stopped repeatedly.
type Player struct {
	sink     io.Writer
	frame    []byte
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	frames uint64
	closed bool
}

// NewPlayer creates a player for a sine tone at frequencyHz.
func NewPlayer(sink io.Writer, frequencyHz float64, logger *slog.Logger, opts ...Option) *Player {
	p := &Player{
		sink:     sink,
		frame:    EncodeFrame(generateTone(frequencyHz, emergencyAmplitude, FrameSamples)),
		interval: FrameDuration,
		logger:   logger.With("subsystem", "tone_player", "frequency_hz", frequencyHz),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewEmergencyPlayer creates a player for the emergency alert tone.
func NewEmergencyPlayer(sink io.Writer, logger *slog.Logger, opts ...Option) *Player {
	return NewPlayer(sink, EmergencyFrequencyHz, logger, opts...)
}

// Start begins playback. Starting a playing player is a no-op.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.stop != nil {
		return nil
	}

	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(p.stop, p.done)

	p.logger.Debug("tone started")
	return nil
}

// Stop ends playback and waits for the writer goroutine to exit.
func (p *Player) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	p.logger.Debug("tone stopped", "frames", p.Frames())
}

// Close stops playback for good.
func (p *Player) Close() {
	p.Stop()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Playing reports whether the tone is being written.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Frames returns the number of frames written so far.
func (p *Player) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

func (p *Player) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.sink.Write(p.frame); err != nil {
			p.logger.Warn("tone sink write failed, stopping", "error", err)
			return
		}
		p.mu.Lock()
		p.frames++
		p.mu.Unlock()

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// generateTone creates linear PCM samples for a sine wave at the given
// frequency and amplitude (0.0-1.0 of int16 range) at SampleRate.
func generateTone(frequencyHz, amplitude float64, samples int) []int16 {
	out := make([]int16, samples)
	peak := amplitude * 32767.0

	for i := 0; i < samples; i++ {
		t := float64(i) / float64(SampleRate)
		out[i] = int16(peak * math.Sin(2.0*math.Pi*frequencyHz*t))
	}
	return out
}

// EncodeFrame converts linear PCM samples to u-law.
func EncodeFrame(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return g711.EncodeUlaw(pcm)
}
