// Package audio decodes WAV payloads and plays them through an external
// player process.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAV decode errors.
var (
	ErrNotWAV           = errors.New("not a RIFF/WAVE payload")
	ErrNoData           = errors.New("wav has no data chunk")
	ErrUnsupportedWidth = errors.New("unsupported sample width")
)

// PCM is decoded audio reduced to mono samples.
type PCM struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Samples       []float64
}

// DecodeWAV parses a RIFF/WAVE payload into mono PCM samples. 8, 16 and
// 32-bit integer PCM are supported; stereo keeps the left channel only,
// which is enough for envelope analysis.
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		channels      int
		sampleRate    int
		bitsPerSample int
		haveFmt       bool
	)

	// Walk chunks; fmt must precede data.
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, ErrNoData
			}
			samples, err := decodeSamples(data[body:body+size], channels, bitsPerSample)
			if err != nil {
				return nil, err
			}
			return &PCM{
				SampleRate:    sampleRate,
				Channels:      channels,
				BitsPerSample: bitsPerSample,
				Samples:       samples,
			}, nil
		}

		// Chunks are word-aligned.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	return nil, ErrNoData
}

func decodeSamples(raw []byte, channels, bits int) ([]float64, error) {
	if channels <= 0 {
		channels = 1
	}

	var all []float64
	switch bits {
	case 8:
		all = make([]float64, len(raw))
		for i, b := range raw {
			// 8-bit WAV is unsigned with a 128 midpoint.
			all[i] = float64(int(b) - 128)
		}
	case 16:
		n := len(raw) / 2
		all = make([]float64, n)
		for i := 0; i < n; i++ {
			all[i] = float64(int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2])))
		}
	case 32:
		n := len(raw) / 4
		all = make([]float64, n)
		for i := 0; i < n; i++ {
			all[i] = float64(int32(binary.LittleEndian.Uint32(raw[i*4 : i*4+4])))
		}
	default:
		return nil, fmt.Errorf("%w: %d bits", ErrUnsupportedWidth, bits)
	}

	if channels == 1 {
		return all, nil
	}
	// Keep the first channel of each frame.
	mono := make([]float64, 0, len(all)/channels)
	for i := 0; i < len(all); i += channels {
		mono = append(mono, all[i])
	}
	return mono, nil
}

// RMS is the root mean square of the samples, zero for an empty slice.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
