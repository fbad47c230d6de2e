// Package lipsync animates the avatar's mouth from the volume envelope of
// synthesized audio.
package lipsync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaede-live/kaede/internal/audio"
)

// MouthSink receives mouth openness updates, 0.0 closed to 1.0 fully open.
type MouthSink interface {
	SetMouthOpen(ctx context.Context, value float64) error
}

// rmsScale maps RMS amplitude to the 0..1 mouth range. Tuned well below the
// 16-bit full scale so ordinary speech opens the mouth visibly.
const rmsScale = 8000.0

// Config tunes the driver.
type Config struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
	Smoothing      float64       `mapstructure:"smoothing"`
}

// DefaultConfig animates at 20fps with moderate smoothing.
func DefaultConfig() *Config {
	return &Config{
		UpdateInterval: 50 * time.Millisecond,
		Smoothing:      0.3,
	}
}

// Driver replays an audio clip's volume envelope onto a mouth parameter in
// real time. One sync runs at a time; overlapping calls are dropped.
type Driver struct {
	sink      MouthSink
	interval  time.Duration
	smoothing float64
	current   float64
	syncing   atomic.Bool
	logger    zerolog.Logger
}

// NewDriver creates a driver from config.
func NewDriver(sink MouthSink, config *Config, logger zerolog.Logger) *Driver {
	if config == nil {
		config = DefaultConfig()
	}
	interval := config.UpdateInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	smoothing := config.Smoothing
	if smoothing < 0 {
		smoothing = 0
	} else if smoothing > 1 {
		smoothing = 1
	}
	return &Driver{
		sink:      sink,
		interval:  interval,
		smoothing: smoothing,
		logger:    logger.With().Str("component", "lipsync").Logger(),
	}
}

// IsSyncing reports whether a sync is in progress.
func (d *Driver) IsSyncing() bool {
	return d.syncing.Load()
}

// Sync drives the mouth from the WAV payload, pacing updates against wall
// time so the animation tracks concurrent playback. It blocks until the
// clip's envelope is exhausted or the context is cancelled, then ramps the
// mouth closed. A malformed payload closes the mouth and returns the decode
// error.
func (d *Driver) Sync(ctx context.Context, wav []byte) error {
	if !d.syncing.CompareAndSwap(false, true) {
		d.logger.Warn().Msg("Lip sync already running, dropping clip")
		return nil
	}
	defer d.syncing.Store(false)
	defer d.closeMouth(ctx)

	pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to decode audio for lip sync")
		return err
	}

	samplesPerFrame := int(float64(pcm.SampleRate) * d.interval.Seconds())
	if samplesPerFrame <= 0 {
		return nil
	}
	totalFrames := len(pcm.Samples) / samplesPerFrame

	d.logger.Debug().
		Int("frames", totalFrames).
		Dur("interval", d.interval).
		Msg("Starting lip sync")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for i := 0; i < totalFrames; i++ {
		frame := pcm.Samples[i*samplesPerFrame : (i+1)*samplesPerFrame]
		volume := clamp01(audio.RMS(frame) / rmsScale)

		d.current = d.smoothing*d.current + (1-d.smoothing)*volume
		d.setMouth(ctx, d.current)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// closeMouth ramps the mouth shut instead of snapping it.
func (d *Driver) closeMouth(ctx context.Context) {
	for d.current > 0.01 {
		d.current *= 0.5
		d.setMouth(ctx, d.current)

		select {
		case <-ctx.Done():
			break
		case <-time.After(d.interval):
		}
		if ctx.Err() != nil {
			break
		}
	}
	d.current = 0
	d.setMouth(ctx, 0)
}

func (d *Driver) setMouth(ctx context.Context, value float64) {
	if err := d.sink.SetMouthOpen(ctx, value); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to set mouth value")
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
