package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// VoicevoxConfig configures the VOICEVOX engine client.
type VoicevoxConfig struct {
	BaseURL    string  `mapstructure:"base_url"`
	SpeakerID  int     `mapstructure:"speaker_id"`
	Speed      float64 `mapstructure:"speed"`
	Pitch      float64 `mapstructure:"pitch"`
	Intonation float64 `mapstructure:"intonation"`
	Volume     float64 `mapstructure:"volume"`
}

// DefaultVoicevoxConfig targets a local VOICEVOX engine.
func DefaultVoicevoxConfig() *VoicevoxConfig {
	return &VoicevoxConfig{
		BaseURL:    "http://localhost:50021",
		SpeakerID:  1,
		Speed:      1.0,
		Pitch:      0.0,
		Intonation: 1.0,
		Volume:     1.0,
	}
}

// VoicevoxEngine talks to a VOICEVOX engine over HTTP. Synthesis is the
// engine's two-step flow: build an audio query from text, then render it.
type VoicevoxEngine struct {
	config *VoicevoxConfig
	client *http.Client
	logger zerolog.Logger
}

// NewVoicevoxEngine creates an engine client from config.
func NewVoicevoxEngine(logger zerolog.Logger, config *VoicevoxConfig) *VoicevoxEngine {
	if config == nil {
		config = DefaultVoicevoxConfig()
	}
	return &VoicevoxEngine{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("provider", "voicevox").Logger(),
	}
}

// Name returns the engine identifier.
func (e *VoicevoxEngine) Name() string { return "voicevox" }

// Synthesize renders text with the given speaker, or the configured default
// when speakerID is negative.
func (e *VoicevoxEngine) Synthesize(ctx context.Context, text string, speakerID int) (*AudioData, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if speakerID < 0 {
		speakerID = e.config.SpeakerID
	}

	query, err := e.audioQuery(ctx, text, speakerID)
	if err != nil {
		return nil, err
	}

	// Prosody settings ride on the query object.
	query["speedScale"] = e.config.Speed
	query["pitchScale"] = e.config.Pitch
	query["intonationScale"] = e.config.Intonation
	query["volumeScale"] = e.config.Volume

	audio, err := e.synthesis(ctx, query, speakerID)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Int("speaker", speakerID).
		Int("bytes", len(audio)).
		Msg("Synthesized audio")

	return &AudioData{
		Data:       audio,
		SampleRate: 24000,
		Channels:   1,
		Format:     "wav",
	}, nil
}

func (e *VoicevoxEngine) audioQuery(ctx context.Context, text string, speakerID int) (map[string]any, error) {
	u := fmt.Sprintf("%s/audio_query?%s", strings.TrimRight(e.config.BaseURL, "/"), url.Values{
		"text":    {text},
		"speaker": {strconv.Itoa(speakerID)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("audio query error %d: %s", resp.StatusCode, string(body))
	}

	var query map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&query); err != nil {
		return nil, fmt.Errorf("failed to decode audio query: %w", err)
	}
	return query, nil
}

func (e *VoicevoxEngine) synthesis(ctx context.Context, query map[string]any, speakerID int) ([]byte, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audio query: %w", err)
	}

	u := fmt.Sprintf("%s/synthesis?speaker=%d", strings.TrimRight(e.config.BaseURL, "/"), speakerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("synthesis error %d: %s", resp.StatusCode, string(respBody))
	}

	return io.ReadAll(resp.Body)
}

// ListSpeakers flattens the engine's speaker/style tree into one entry per
// style, which is what the speaker ID in config addresses.
func (e *VoicevoxEngine) ListSpeakers(ctx context.Context) ([]Speaker, error) {
	u := strings.TrimRight(e.config.BaseURL, "/") + "/speakers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speakers error: status %d", resp.StatusCode)
	}

	var raw []struct {
		Name   string `json:"name"`
		Styles []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"styles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode speakers: %w", err)
	}

	var speakers []Speaker
	for _, sp := range raw {
		for _, style := range sp.Styles {
			speakers = append(speakers, Speaker{
				ID:     style.ID,
				Name:   fmt.Sprintf("%s (%s)", sp.Name, style.Name),
				Styles: []string{style.Name},
			})
		}
	}
	return speakers, nil
}

// Ping checks the engine's version endpoint.
func (e *VoicevoxEngine) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	u := strings.TrimRight(e.config.BaseURL, "/") + "/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrEngineUnavailable, resp.StatusCode)
	}

	version, _ := io.ReadAll(resp.Body)
	e.logger.Info().Str("version", strings.TrimSpace(string(version))).Msg("VOICEVOX available")
	return nil
}
