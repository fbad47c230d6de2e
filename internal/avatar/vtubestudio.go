package avatar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// VTubeStudioConfig configures the VTube Studio plugin connection.
type VTubeStudioConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	PluginName      string `mapstructure:"plugin_name"`
	PluginDeveloper string `mapstructure:"plugin_developer"`
	TokenPath       string `mapstructure:"token_path"`
}

// DefaultVTubeStudioConfig targets a local VTube Studio with the API
// enabled.
func DefaultVTubeStudioConfig() *VTubeStudioConfig {
	return &VTubeStudioConfig{
		Host:            "localhost",
		Port:            8001,
		PluginName:      "Kaede Live",
		PluginDeveloper: "Kaede Project",
		TokenPath:       "./vts_token.txt",
	}
}

// vtsMessage is the VTube Studio public API envelope.
type vtsMessage struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// VTubeStudio controls a Live2D model through the VTube Studio WebSocket
// API. Requests are serialized over one connection; the API answers each
// request with exactly one response.
type VTubeStudio struct {
	config *VTubeStudioConfig
	logger zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	reqID     int
}

// NewVTubeStudio creates a controller from config.
func NewVTubeStudio(logger zerolog.Logger, config *VTubeStudioConfig) *VTubeStudio {
	if config == nil {
		config = DefaultVTubeStudioConfig()
	}
	return &VTubeStudio{
		config: config,
		logger: logger.With().Str("component", "vtube-studio").Logger(),
	}
}

// Connect dials VTube Studio, authenticates the plugin and registers the
// lip sync parameter.
func (v *VTubeStudio) Connect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.connected {
		v.logger.Warn().Msg("Already connected to VTube Studio")
		return nil
	}

	url := fmt.Sprintf("ws://%s:%d", v.config.Host, v.config.Port)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial vtube studio: %w", err)
	}
	v.conn = conn

	if err := v.authenticateLocked(); err != nil {
		conn.Close()
		v.conn = nil
		return err
	}

	// Lip sync rides on a custom parameter the model maps to its mouth.
	if err := v.createParameterLocked(MouthParameter, 0, 0, 1); err != nil {
		v.logger.Warn().Err(err).Str("parameter", MouthParameter).
			Msg("Failed to create lip sync parameter, it may already exist")
	}

	v.connected = true
	v.logger.Info().Str("url", url).Msg("Connected to VTube Studio")
	return nil
}

// Disconnect closes the connection.
func (v *VTubeStudio) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.conn != nil {
		if err := v.conn.Close(); err != nil {
			v.logger.Warn().Err(err).Msg("Error closing VTube Studio connection")
		}
		v.conn = nil
	}
	v.connected = false
	v.logger.Info().Msg("Disconnected from VTube Studio")
	return nil
}

// Connected reports whether the plugin session is live.
func (v *VTubeStudio) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// authenticateLocked runs the token handshake. A token stored from a prior
// session is reused so the user is not re-prompted in VTube Studio.
func (v *VTubeStudio) authenticateLocked() error {
	token := v.loadToken()
	if token == "" {
		resp, err := v.requestLocked("AuthenticationTokenRequest", map[string]any{
			"pluginName":      v.config.PluginName,
			"pluginDeveloper": v.config.PluginDeveloper,
		})
		if err != nil {
			return fmt.Errorf("request auth token: %w", err)
		}
		var data struct {
			AuthenticationToken string `json:"authenticationToken"`
		}
		if err := json.Unmarshal(resp, &data); err != nil || data.AuthenticationToken == "" {
			return ErrAuthFailed
		}
		token = data.AuthenticationToken
		v.saveToken(token)
	}

	resp, err := v.requestLocked("AuthenticationRequest", map[string]any{
		"pluginName":          v.config.PluginName,
		"pluginDeveloper":     v.config.PluginDeveloper,
		"authenticationToken": token,
	})
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	var data struct {
		Authenticated bool   `json:"authenticated"`
		Reason        string `json:"reason"`
	}
	if err := json.Unmarshal(resp, &data); err != nil {
		return ErrAuthFailed
	}
	if !data.Authenticated {
		// Stored token may have been revoked; drop it for the next attempt.
		os.Remove(v.config.TokenPath)
		return fmt.Errorf("%w: %s", ErrAuthFailed, data.Reason)
	}

	v.logger.Info().Msg("Authenticated with VTube Studio")
	return nil
}

func (v *VTubeStudio) createParameterLocked(name string, defaultValue, min, max float64) error {
	_, err := v.requestLocked("ParameterCreationRequest", map[string]any{
		"parameterName": name,
		"explanation":   "Mouth openness driven by speech audio",
		"min":           min,
		"max":           max,
		"defaultValue":  defaultValue,
	})
	return err
}

// requestLocked sends one API request and reads its response. Callers must
// hold mu.
func (v *VTubeStudio) requestLocked(messageType string, data any) (json.RawMessage, error) {
	if v.conn == nil {
		return nil, ErrNotConnected
	}

	v.reqID++
	msg := vtsMessage{
		APIName:     "VTubeStudioPublicAPI",
		APIVersion:  "1.0",
		RequestID:   fmt.Sprintf("kaede-%d", v.reqID),
		MessageType: messageType,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		msg.Data = raw
	}

	if err := v.conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("write %s: %w", messageType, err)
	}

	var resp vtsMessage
	if err := v.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", messageType, err)
	}
	if resp.MessageType == "APIError" {
		var apiErr struct {
			ErrorID int    `json:"errorID"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Data, &apiErr)
		return nil, fmt.Errorf("vtube studio error %d: %s", apiErr.ErrorID, apiErr.Message)
	}
	return resp.Data, nil
}

// SetParameter sets one model parameter.
func (v *VTubeStudio) SetParameter(ctx context.Context, name string, value float64) error {
	return v.SetParameters(ctx, map[string]float64{name: value})
}

// SetParameters injects several parameter values in one request.
func (v *VTubeStudio) SetParameters(_ context.Context, values map[string]float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.connected {
		return ErrNotConnected
	}

	params := make([]map[string]any, 0, len(values))
	for name, value := range values {
		params = append(params, map[string]any{"id": name, "value": value})
	}

	_, err := v.requestLocked("InjectParameterDataRequest", map[string]any{
		"mode":            "set",
		"parameterValues": params,
	})
	return err
}

// SetMouthOpen drives the lip sync parameter.
func (v *VTubeStudio) SetMouthOpen(ctx context.Context, value float64) error {
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}
	return v.SetParameter(ctx, MouthParameter, value)
}

// SetExpression activates an expression through its hotkey name.
func (v *VTubeStudio) SetExpression(ctx context.Context, name string) error {
	return v.TriggerHotkey(ctx, name)
}

// TriggerHotkey fires a hotkey by ID or name.
func (v *VTubeStudio) TriggerHotkey(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.connected {
		return ErrNotConnected
	}

	_, err := v.requestLocked("HotkeyTriggerRequest", map[string]any{
		"hotkeyID": id,
	})
	if err != nil {
		return err
	}
	v.logger.Debug().Str("hotkey", id).Msg("Triggered hotkey")
	return nil
}

// Hotkeys lists the hotkeys of the currently loaded model.
func (v *VTubeStudio) Hotkeys(_ context.Context) ([]Hotkey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.connected {
		return nil, ErrNotConnected
	}

	resp, err := v.requestLocked("HotkeysInCurrentModelRequest", nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		AvailableHotkeys []Hotkey `json:"availableHotkeys"`
	}
	if err := json.Unmarshal(resp, &data); err != nil {
		return nil, fmt.Errorf("decode hotkeys: %w", err)
	}
	return data.AvailableHotkeys, nil
}

// Hotkey is one VTube Studio hotkey.
type Hotkey struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	HotkeyID string `json:"hotkeyID"`
}

func (v *VTubeStudio) loadToken() string {
	data, err := os.ReadFile(v.config.TokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (v *VTubeStudio) saveToken(token string) {
	if err := os.WriteFile(v.config.TokenPath, []byte(token), 0600); err != nil {
		v.logger.Warn().Err(err).Msg("Failed to persist auth token")
	}
}
