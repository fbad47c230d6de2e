package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoPlayer is returned when no playback command is available.
var ErrNoPlayer = errors.New("no audio player command found")

// Player plays a WAV payload to completion.
type Player interface {
	// Play blocks until playback finishes or the context is cancelled.
	Play(ctx context.Context, wav []byte) error
}

// playerCommands are probed in order when no command is configured.
var playerCommands = []string{"afplay", "paplay", "aplay", "ffplay"}

// ExecPlayer shells out to a system audio player. Payloads go through a
// temp file since the common players only take paths.
type ExecPlayer struct {
	command string
	args    []string
	logger  zerolog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExecPlayer builds a player around the given command, probing the
// system when command is empty.
func NewExecPlayer(logger zerolog.Logger, command string) (*ExecPlayer, error) {
	log := logger.With().Str("component", "audio-player").Logger()

	if command == "" {
		for _, candidate := range playerCommands {
			if _, err := exec.LookPath(candidate); err == nil {
				command = candidate
				break
			}
		}
	}
	if command == "" {
		return nil, ErrNoPlayer
	}

	var args []string
	if command == "ffplay" {
		args = []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}
	}

	log.Info().Str("command", command).Msg("Audio player ready")
	return &ExecPlayer{command: command, args: args, logger: log}, nil
}

// Play writes the payload to a temp file and runs the player on it.
func (p *ExecPlayer) Play(ctx context.Context, wav []byte) error {
	if len(wav) == 0 {
		return nil
	}

	f, err := os.CreateTemp("", "kaede-*.wav")
	if err != nil {
		return fmt.Errorf("create temp audio file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(wav); err != nil {
		f.Close()
		return fmt.Errorf("write temp audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp audio file: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command, append(p.args, path)...)
	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}

// Stop interrupts any in-flight playback.
func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
