// Package tts provides text-to-speech synthesis for the character voice.
package tts

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrEngineUnavailable = errors.New("TTS engine unavailable")
	ErrSpeakerNotFound   = errors.New("speaker not found")
	ErrEmptyText         = errors.New("text is empty")
)

// AudioData is synthesized audio plus enough metadata to play it and drive
// lip-sync.
type AudioData struct {
	Data       []byte
	SampleRate int
	Channels   int
	Format     string // "wav"
}

// Duration derives playback length from the PCM payload, assuming 16-bit
// samples. Returns zero for malformed metadata.
func (a *AudioData) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 || len(a.Data) == 0 {
		return 0
	}
	samples := len(a.Data) / (2 * a.Channels)
	return time.Duration(float64(samples) / float64(a.SampleRate) * float64(time.Second))
}

// Speaker is one selectable voice style.
type Speaker struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Styles []string `json:"styles,omitempty"`
}

// Engine is implemented by TTS backends.
type Engine interface {
	// Name returns the engine identifier for logs.
	Name() string

	// Synthesize converts text to audio with the engine's default speaker.
	Synthesize(ctx context.Context, text string, speakerID int) (*AudioData, error)

	// ListSpeakers returns the available voices.
	ListSpeakers(ctx context.Context) ([]Speaker, error)

	// Ping reports whether the engine is reachable.
	Ping(ctx context.Context) error
}
