package lipsync

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mouthRecorder struct {
	mu     sync.Mutex
	values []float64
}

func (m *mouthRecorder) SetMouthOpen(_ context.Context, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = append(m.values, value)
	return nil
}

func (m *mouthRecorder) snapshot() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.values...)
}

// monoWAV builds a 16-bit mono clip with every sample set to amplitude.
func monoWAV(t *testing.T, sampleRate, numSamples int, amplitude int16) []byte {
	t.Helper()
	var buf bytes.Buffer
	write := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("build wav: %v", err)
		}
	}

	dataLen := numSamples * 2
	buf.WriteString("RIFF")
	write(uint32(36 + dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	write(uint32(16))
	write(uint16(1))
	write(uint16(1))
	write(uint32(sampleRate))
	write(uint32(sampleRate * 2))
	write(uint16(2))
	write(uint16(16))
	buf.WriteString("data")
	write(uint32(dataLen))
	for i := 0; i < numSamples; i++ {
		write(amplitude)
	}
	return buf.Bytes()
}

func fastConfig() *Config {
	return &Config{UpdateInterval: time.Millisecond, Smoothing: 0.3}
}

func TestDriver_SyncOpensAndClosesMouth(t *testing.T) {
	sink := &mouthRecorder{}
	d := NewDriver(sink, fastConfig(), zerolog.Nop())

	// 10 frames of loud audio at 8kHz with 1ms frames.
	wav := monoWAV(t, 8000, 80, 16000)
	if err := d.Sync(context.Background(), wav); err != nil {
		t.Fatalf("sync: %v", err)
	}

	values := sink.snapshot()
	if len(values) == 0 {
		t.Fatal("expected mouth updates")
	}

	opened := false
	for _, v := range values {
		if v < 0 || v > 1 {
			t.Errorf("mouth value out of range: %f", v)
		}
		if v > 0.3 {
			opened = true
		}
	}
	if !opened {
		t.Error("expected loud audio to open the mouth")
	}
	if final := values[len(values)-1]; final != 0 {
		t.Errorf("expected mouth closed at end, got %f", final)
	}
	if d.IsSyncing() {
		t.Error("expected syncing flag cleared")
	}
}

func TestDriver_SmoothingRampsGradually(t *testing.T) {
	sink := &mouthRecorder{}
	d := NewDriver(sink, &Config{UpdateInterval: time.Millisecond, Smoothing: 0.9}, zerolog.Nop())

	wav := monoWAV(t, 8000, 80, 16000)
	if err := d.Sync(context.Background(), wav); err != nil {
		t.Fatalf("sync: %v", err)
	}

	values := sink.snapshot()
	if len(values) < 2 {
		t.Fatal("expected multiple updates")
	}
	// Heavy smoothing keeps the first frame well below the raw volume.
	if values[0] > 0.5 {
		t.Errorf("expected smoothed first frame, got %f", values[0])
	}
	if values[1] <= values[0] {
		t.Errorf("expected envelope to rise: %f then %f", values[0], values[1])
	}
}

func TestDriver_SilentAudioKeepsMouthShut(t *testing.T) {
	sink := &mouthRecorder{}
	d := NewDriver(sink, fastConfig(), zerolog.Nop())

	wav := monoWAV(t, 8000, 80, 0)
	if err := d.Sync(context.Background(), wav); err != nil {
		t.Fatalf("sync: %v", err)
	}

	for _, v := range sink.snapshot() {
		if v != 0 {
			t.Errorf("expected silence to keep mouth closed, got %f", v)
		}
	}
}

func TestDriver_MalformedAudio(t *testing.T) {
	sink := &mouthRecorder{}
	d := NewDriver(sink, fastConfig(), zerolog.Nop())

	if err := d.Sync(context.Background(), []byte("garbage")); err == nil {
		t.Error("expected decode error")
	}

	values := sink.snapshot()
	if len(values) == 0 || values[len(values)-1] != 0 {
		t.Errorf("expected mouth forced closed after failure, got %v", values)
	}
}

func TestDriver_ContextCancellation(t *testing.T) {
	sink := &mouthRecorder{}
	d := NewDriver(sink, &Config{UpdateInterval: 20 * time.Millisecond, Smoothing: 0.3}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	// Long clip; cancel partway through.
	wav := monoWAV(t, 8000, 8000, 16000)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Sync(ctx, wav) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not stop after cancellation")
	}
}
