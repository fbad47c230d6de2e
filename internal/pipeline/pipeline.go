// Package pipeline runs the live turn loop: pick a comment, generate a
// response, voice it and animate the avatar.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaede-live/kaede/internal/audio"
	"github.com/kaede-live/kaede/internal/bus"
	"github.com/kaede-live/kaede/internal/chat"
	"github.com/kaede-live/kaede/internal/emotion"
	"github.com/kaede-live/kaede/internal/lipsync"
	"github.com/kaede-live/kaede/internal/llm"
	"github.com/kaede-live/kaede/internal/memory"
	"github.com/kaede-live/kaede/internal/tts"
)

// State is the pipeline lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Lifecycle errors. Stop is a no-op when already stopped; ErrNotRunning is
// returned only by the direct-injection paths.
var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrNotRunning     = errors.New("pipeline not running")
)

// Config tunes the turn loop.
type Config struct {
	// ResponseInterval is the fixed pause between turns. The loop waits
	// this long after finishing a turn before picking the next comment.
	ResponseInterval time.Duration `mapstructure:"response_interval"`
	// SpeakerID selects the TTS voice.
	SpeakerID int `mapstructure:"speaker_id"`
	// MaxResponseTokens caps LLM output per turn.
	MaxResponseTokens int `mapstructure:"max_response_tokens"`
}

// DefaultConfig paces one turn every five seconds.
func DefaultConfig() *Config {
	return &Config{
		ResponseInterval:  5 * time.Second,
		SpeakerID:         1,
		MaxResponseTokens: 256,
	}
}

// Deps are the collaborators the pipeline orchestrates. Source, Generator,
// Character and Queue are required. Engine, Player, LipSync, Avatar,
// Emotion, Store and Retriever are optional; missing ones degrade the
// corresponding stage instead of failing the pipeline.
type Deps struct {
	Queue     *chat.CommentQueue
	Source    chat.Source
	Window    *memory.Window
	Store     *memory.Store
	Retriever *memory.Retriever
	Generator llm.Generator
	Character *llm.Character
	Engine    tts.Engine
	Player    audio.Player
	LipSync   *lipsync.Driver
	Avatar    interface {
		Connect(ctx context.Context) error
		Disconnect() error
		Connected() bool
	}
	Emotion *emotion.Controller
	Bus     *bus.EventBus
}

// Pipeline is the single consumer of the comment queue. One turn runs at a
// time; admission control stays concurrent on the queue itself.
type Pipeline struct {
	config *Config
	deps   Deps
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a pipeline. Window defaults to a 20-message window and Bus
// to a private bus when nil.
func New(logger zerolog.Logger, config *Config, deps Deps) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Queue == nil || deps.Source == nil || deps.Generator == nil || deps.Character == nil {
		return nil, errors.New("pipeline requires queue, source, generator and character")
	}
	if deps.Window == nil {
		deps.Window = memory.NewWindow(20)
	}
	if deps.Bus == nil {
		deps.Bus = bus.NewEventBus()
	}
	return &Pipeline{
		config: config,
		deps:   deps,
		logger: logger.With().Str("component", "pipeline").Logger(),
		state:  StateStopped,
	}, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	stateGauge.Set(stateValue(s))
	p.deps.Bus.Publish(bus.EventTypeStateChanged, map[string]any{"state": string(s)})
	p.logger.Info().Str("state", string(s)).Msg("Pipeline state changed")
}

// transition moves to the target state only when the current state still
// matches from, so concurrent transitions cannot overwrite each other.
func (p *Pipeline) transition(from, to State) bool {
	p.mu.Lock()
	if p.state != from {
		p.mu.Unlock()
		return false
	}
	p.state = to
	p.mu.Unlock()
	stateGauge.Set(stateValue(to))
	p.deps.Bus.Publish(bus.EventTypeStateChanged, map[string]any{"state": string(to)})
	p.logger.Info().Str("state", string(to)).Msg("Pipeline state changed")
	return true
}

// Start brings the pipeline up. Chat connection failures are fatal; a
// missing avatar or TTS engine only degrades the stream. Start returns once
// the loops are running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateStopped && p.state != StateError {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.state = StateStarting
	p.mu.Unlock()
	p.deps.Bus.Publish(bus.EventTypeStateChanged, map[string]any{"state": string(StateStarting)})

	if err := p.deps.Source.Connect(ctx); err != nil {
		p.setState(StateError)
		p.deps.Bus.Publish(bus.EventTypeError, map[string]any{"error": err.Error()})
		return fmt.Errorf("connect chat source: %w", err)
	}

	if p.deps.Avatar != nil {
		if err := p.deps.Avatar.Connect(ctx); err != nil {
			// No avatar means nothing to animate; lip sync and expression
			// stages are dropped for this run instead of failing every turn.
			p.logger.Warn().Err(err).Msg("Avatar unavailable, disabling lip sync and expressions")
			p.deps.Avatar = nil
			p.deps.LipSync = nil
			p.deps.Emotion = nil
		}
	}
	if p.deps.Engine != nil {
		if err := p.deps.Engine.Ping(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("TTS engine unavailable, responses will be text only")
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.deps.Source.OnComment(func(c chat.Comment) {
		if p.deps.Queue.Push(c) {
			p.deps.Bus.Publish(bus.EventTypeCommentQueued, map[string]any{
				"id": c.ID, "user": c.UserName, "priority": c.Priority,
			})
		}
	})

	p.wg.Add(2)
	go p.listenLoop(runCtx)
	go p.turnLoop(runCtx)

	// The listener may already have failed and moved the state to error.
	p.transition(StateStarting, StateRunning)
	return nil
}

// Stop shuts the loops down, waits for the in-flight turn to finish and
// disconnects the adapters. Stopping an already stopped pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != StateRunning && p.state != StateError {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopping
	cancel := p.cancel
	p.mu.Unlock()
	p.deps.Bus.Publish(bus.EventTypeStateChanged, map[string]any{"state": string(StateStopping)})

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	if err := p.deps.Source.Disconnect(); err != nil {
		p.logger.Warn().Err(err).Msg("Error disconnecting chat source")
	}
	if p.deps.Avatar != nil {
		if err := p.deps.Avatar.Disconnect(); err != nil {
			p.logger.Warn().Err(err).Msg("Error disconnecting avatar")
		}
	}
	p.deps.Queue.Clear()

	p.setState(StateStopped)
	return nil
}

// listenLoop keeps the chat source running until shutdown. A listener that
// dies outside of shutdown leaves the pipeline without input, so the
// pipeline is moved to the error state and the turn loop is cancelled;
// operators recover via Stop and a fresh Start.
func (p *Pipeline) listenLoop(ctx context.Context) {
	defer p.wg.Done()

	err := p.deps.Source.Listen(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Error().Err(err).Msg("Chat source terminated")
		p.deps.Bus.Publish(bus.EventTypeError, map[string]any{"error": err.Error()})

		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if p.transition(StateRunning, StateError) || p.transition(StateStarting, StateError) {
			if cancel != nil {
				cancel()
			}
		}
	}
}

// turnLoop paces turns at the configured interval. An empty queue just
// means waiting for the next tick.
func (p *Pipeline) turnLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		comment, ok := p.deps.Queue.Pop()
		if ok {
			p.deps.Bus.Publish(bus.EventTypeCommentPicked, map[string]any{
				"id": comment.ID, "user": comment.UserName,
			})
			p.runTurn(ctx, comment.UserName, comment.Message)
		}

		wait := p.config.ResponseInterval
		if wait <= 0 {
			if ok {
				continue
			}
			// Idle poll when pacing is disabled.
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// RespondTo runs one full turn for the given text, bypassing the queue.
// Used for operator input and testing.
func (p *Pipeline) RespondTo(ctx context.Context, userName, text string) error {
	p.mu.Lock()
	running := p.state == StateRunning
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	return p.runTurn(ctx, userName, text)
}

// runTurn executes one conversation turn. Stage failures after generation
// degrade the turn; only a generation failure aborts it.
func (p *Pipeline) runTurn(ctx context.Context, userName, text string) error {
	start := time.Now()

	system := p.deps.Character.SystemPrompt()
	if p.deps.Retriever != nil {
		if extra, err := p.deps.Retriever.RelevantContext(ctx, userName, text); err != nil {
			p.logger.Warn().Err(err).Msg("Memory retrieval failed")
		} else if extra != "" {
			system += "\n\n" + extra
		}
	}

	// The current message is only committed to the window once generation
	// succeeds, so a failed turn leaves no unanswered user entry behind.
	current := text
	if userName != "" {
		current = userName + ": " + text
	}
	messages := make([]llm.Message, 0, p.deps.Window.Len()+1)
	for _, m := range p.deps.Window.ContextWithNames() {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: string(memory.RoleUser), Content: current})

	resp, err := p.deps.Generator.Generate(ctx, &llm.Request{
		System:    system,
		Messages:  messages,
		MaxTokens: p.config.MaxResponseTokens,
	})
	if err != nil {
		p.logger.Error().Err(err).Msg("Response generation failed")
		turnsTotal.WithLabelValues("generation_failed").Inc()
		p.deps.Bus.Publish(bus.EventTypeTurnFailed, map[string]any{"stage": "generate", "error": err.Error()})
		return err
	}

	p.deps.Window.AddUserMessage(text, userName)
	p.deps.Bus.Publish(bus.EventTypeResponseGenerated, map[string]any{
		"user": userName, "text": resp.Text,
	})

	p.deps.Window.AddAssistantMessage(resp.Text)

	emotionName := ""
	if p.deps.Emotion != nil {
		result := p.deps.Emotion.ProcessText(ctx, resp.Text)
		emotionName = string(result.Primary)
		p.deps.Bus.Publish(bus.EventTypeEmotionChanged, map[string]any{
			"emotion": emotionName, "intensity": result.Intensity,
		})
	}

	if p.deps.Store != nil {
		if err := p.deps.Store.StoreInteraction(ctx, userName, text, resp.Text, emotionName); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to store interaction")
		}
	}

	p.speak(ctx, resp.Text)

	turnsTotal.WithLabelValues("completed").Inc()
	turnDuration.Observe(time.Since(start).Seconds())
	p.deps.Bus.Publish(bus.EventTypeTurnCompleted, map[string]any{
		"user": userName, "duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// Speak voices text directly without involving the LLM or memory. Used by
// the dashboard's manual speak.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	p.mu.Lock()
	running := p.state == StateRunning
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	p.speak(ctx, text)
	return nil
}

// speak synthesizes and plays the line with lip sync running alongside
// playback. Each stage is best-effort.
func (p *Pipeline) speak(ctx context.Context, text string) {
	if p.deps.Engine == nil {
		return
	}

	audioData, err := p.deps.Engine.Synthesize(ctx, text, p.config.SpeakerID)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Synthesis failed, skipping playback")
		turnsTotal.WithLabelValues("synthesis_failed").Inc()
		return
	}

	p.deps.Bus.Publish(bus.EventTypeSpeakingStarted, map[string]any{
		"duration_ms": audioData.Duration().Milliseconds(),
	})

	var wg sync.WaitGroup
	if p.deps.Player != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.deps.Player.Play(ctx, audioData.Data); err != nil && ctx.Err() == nil {
				p.logger.Warn().Err(err).Msg("Playback failed")
			}
		}()
	}
	if p.deps.LipSync != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.deps.LipSync.Sync(ctx, audioData.Data); err != nil && ctx.Err() == nil {
				p.logger.Warn().Err(err).Msg("Lip sync failed")
			}
		}()
	}
	wg.Wait()

	p.deps.Bus.Publish(bus.EventTypeSpeakingStopped, nil)
}
