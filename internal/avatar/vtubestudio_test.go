package avatar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// fakeVTS simulates the VTube Studio public API over a real WebSocket.
type fakeVTS struct {
	mu        sync.Mutex
	injected  []map[string]any
	hotkeys   []string
	authCount int
}

func (f *fakeVTS) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var msg vtsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}

			resp := vtsMessage{
				APIName:    "VTubeStudioPublicAPI",
				APIVersion: "1.0",
				RequestID:  msg.RequestID,
			}

			switch msg.MessageType {
			case "AuthenticationTokenRequest":
				resp.MessageType = "AuthenticationTokenResponse"
				resp.Data, _ = json.Marshal(map[string]string{"authenticationToken": "test-token"})
			case "AuthenticationRequest":
				f.mu.Lock()
				f.authCount++
				f.mu.Unlock()
				resp.MessageType = "AuthenticationResponse"
				resp.Data, _ = json.Marshal(map[string]bool{"authenticated": true})
			case "ParameterCreationRequest":
				resp.MessageType = "ParameterCreationResponse"
				resp.Data, _ = json.Marshal(map[string]string{})
			case "InjectParameterDataRequest":
				var data struct {
					ParameterValues []map[string]any `json:"parameterValues"`
				}
				json.Unmarshal(msg.Data, &data)
				f.mu.Lock()
				f.injected = append(f.injected, data.ParameterValues...)
				f.mu.Unlock()
				resp.MessageType = "InjectParameterDataResponse"
				resp.Data, _ = json.Marshal(map[string]string{})
			case "HotkeyTriggerRequest":
				var data struct {
					HotkeyID string `json:"hotkeyID"`
				}
				json.Unmarshal(msg.Data, &data)
				f.mu.Lock()
				f.hotkeys = append(f.hotkeys, data.HotkeyID)
				f.mu.Unlock()
				resp.MessageType = "HotkeyTriggerResponse"
				resp.Data, _ = json.Marshal(map[string]string{})
			case "HotkeysInCurrentModelRequest":
				resp.MessageType = "HotkeysInCurrentModelResponse"
				resp.Data, _ = json.Marshal(map[string]any{
					"availableHotkeys": []map[string]string{
						{"name": "happy", "type": "ToggleExpression", "hotkeyID": "hk-1"},
					},
				})
			default:
				resp.MessageType = "APIError"
				resp.Data, _ = json.Marshal(map[string]any{"errorID": 1, "message": "unknown request"})
			}

			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}
}

func newTestController(t *testing.T, fake *fakeVTS) *VTubeStudio {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	u, _ := url.Parse(server.URL)
	port, _ := strconv.Atoi(u.Port())

	cfg := DefaultVTubeStudioConfig()
	cfg.Host = u.Hostname()
	cfg.Port = port
	cfg.TokenPath = filepath.Join(t.TempDir(), "token.txt")
	return NewVTubeStudio(zerolog.Nop(), cfg)
}

func TestVTubeStudio_ConnectAndAuthenticate(t *testing.T) {
	fake := &fakeVTS{}
	v := newTestController(t, fake)

	if err := v.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer v.Disconnect()

	if !v.Connected() {
		t.Error("expected connected state")
	}
	fake.mu.Lock()
	authCount := fake.authCount
	fake.mu.Unlock()
	if authCount != 1 {
		t.Errorf("expected one authentication, got %d", authCount)
	}
}

func TestVTubeStudio_SetMouthOpenClampsAndInjects(t *testing.T) {
	fake := &fakeVTS{}
	v := newTestController(t, fake)
	ctx := context.Background()

	if err := v.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer v.Disconnect()

	if err := v.SetMouthOpen(ctx, 1.7); err != nil {
		t.Fatalf("set mouth: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.injected) != 1 {
		t.Fatalf("expected one injected parameter, got %d", len(fake.injected))
	}
	if fake.injected[0]["id"] != MouthParameter {
		t.Errorf("expected %s, got %v", MouthParameter, fake.injected[0]["id"])
	}
	if fake.injected[0]["value"] != 1.0 {
		t.Errorf("expected clamped value 1.0, got %v", fake.injected[0]["value"])
	}
}

func TestVTubeStudio_ExpressionTriggersHotkey(t *testing.T) {
	fake := &fakeVTS{}
	v := newTestController(t, fake)
	ctx := context.Background()

	if err := v.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer v.Disconnect()

	if err := v.SetExpression(ctx, "happy"); err != nil {
		t.Fatalf("set expression: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.hotkeys) != 1 || fake.hotkeys[0] != "happy" {
		t.Errorf("expected happy hotkey, got %v", fake.hotkeys)
	}
}

func TestVTubeStudio_Hotkeys(t *testing.T) {
	fake := &fakeVTS{}
	v := newTestController(t, fake)
	ctx := context.Background()

	if err := v.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer v.Disconnect()

	hotkeys, err := v.Hotkeys(ctx)
	if err != nil {
		t.Fatalf("hotkeys: %v", err)
	}
	if len(hotkeys) != 1 || hotkeys[0].Name != "happy" || hotkeys[0].HotkeyID != "hk-1" {
		t.Errorf("unexpected hotkeys: %+v", hotkeys)
	}
}

func TestVTubeStudio_DisconnectedOperations(t *testing.T) {
	v := NewVTubeStudio(zerolog.Nop(), nil)
	ctx := context.Background()

	if err := v.SetMouthOpen(ctx, 0.5); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := v.TriggerHotkey(ctx, "x"); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if v.Connected() {
		t.Error("expected disconnected state")
	}
}

func TestVTubeStudio_TokenPersistence(t *testing.T) {
	fake := &fakeVTS{}
	v := newTestController(t, fake)
	ctx := context.Background()

	if err := v.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	v.Disconnect()

	token := v.loadToken()
	if strings.TrimSpace(token) != "test-token" {
		t.Errorf("expected persisted token, got %q", token)
	}
}
