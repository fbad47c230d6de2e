// Package avatar controls the on-screen character model.
package avatar

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrNotConnected = errors.New("not connected to avatar")
	ErrAuthFailed   = errors.New("avatar authentication failed")
)

// MouthParameter is the custom tracking parameter driven by lip sync. The
// Live2D model maps it onto its mouth-open parameter.
const MouthParameter = "KaedeMouthOpen"

// Controller is implemented by avatar backends. The pipeline treats a
// missing avatar as a degraded state, never a fatal one, so every method
// must be safe to call while disconnected.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool

	// SetParameter sets one model parameter.
	SetParameter(ctx context.Context, name string, value float64) error
	// SetParameters sets several model parameters in one request.
	SetParameters(ctx context.Context, values map[string]float64) error
	// SetMouthOpen drives the lip sync parameter, clamped to 0..1.
	SetMouthOpen(ctx context.Context, value float64) error
	// SetExpression activates an expression by its hotkey name.
	SetExpression(ctx context.Context, name string) error
	// TriggerHotkey fires a hotkey by ID or name.
	TriggerHotkey(ctx context.Context, id string) error
}
