package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaede-live/kaede/internal/chat"
	"github.com/kaede-live/kaede/internal/emotion"
	"github.com/kaede-live/kaede/internal/lipsync"
	"github.com/kaede-live/kaede/internal/llm"
	"github.com/kaede-live/kaede/internal/memory"
	"github.com/kaede-live/kaede/internal/tts"
)

type stubSource struct {
	mu         sync.Mutex
	handler    chat.Handler
	connectErr error
	listenErr  error
	connected  bool
}

func (s *stubSource) Connect(context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *stubSource) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *stubSource) OnComment(h chat.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *stubSource) Listen(ctx context.Context) error {
	if s.listenErr != nil {
		return s.listenErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubSource) emit(c chat.Comment) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(c)
	}
}

type stubGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	requests []*llm.Request
}

func (g *stubGenerator) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{Text: g.response}, nil
}

func (g *stubGenerator) Ping(context.Context) error { return nil }
func (g *stubGenerator) Name() string               { return "stub" }

type stubEngine struct {
	err error
}

func (e *stubEngine) Name() string { return "stub-tts" }

func (e *stubEngine) Synthesize(context.Context, string, int) (*tts.AudioData, error) {
	if e.err != nil {
		return nil, e.err
	}
	// One second of 16-bit mono silence.
	return &tts.AudioData{Data: make([]byte, 24000*2), SampleRate: 24000, Channels: 1, Format: "wav"}, nil
}

func (e *stubEngine) ListSpeakers(context.Context) ([]tts.Speaker, error) { return nil, nil }
func (e *stubEngine) Ping(context.Context) error                          { return nil }

type stubPlayer struct {
	mu    sync.Mutex
	plays int
}

func (p *stubPlayer) Play(context.Context, []byte) error {
	p.mu.Lock()
	p.plays++
	p.mu.Unlock()
	return nil
}

func (p *stubPlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

type stubAvatar struct {
	mu          sync.Mutex
	connectErr  error
	disconnects int
}

func (a *stubAvatar) Connect(context.Context) error { return a.connectErr }

func (a *stubAvatar) Disconnect() error {
	a.mu.Lock()
	a.disconnects++
	a.mu.Unlock()
	return nil
}

func (a *stubAvatar) Connected() bool { return a.connectErr == nil }

func (a *stubAvatar) disconnectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnects
}

type testFixture struct {
	pipeline *Pipeline
	source   *stubSource
	gen      *stubGenerator
	player   *stubPlayer
	window   *memory.Window
}

func newFixture(t *testing.T, mutate func(*Deps, *Config)) *testFixture {
	t.Helper()

	source := &stubSource{}
	gen := &stubGenerator{response: "Hi!"}
	player := &stubPlayer{}
	window := memory.NewWindow(10)

	config := DefaultConfig()
	config.ResponseInterval = 0

	deps := Deps{
		Queue:     chat.NewCommentQueue(10, nil, zerolog.Nop()),
		Source:    source,
		Window:    window,
		Generator: gen,
		Character: llm.DefaultCharacter(),
		Engine:    &stubEngine{},
		Player:    player,
	}
	if mutate != nil {
		mutate(&deps, config)
	}

	p, err := New(zerolog.Nop(), config, deps)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return &testFixture{pipeline: p, source: source, gen: gen, player: player, window: window}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipeline_EndToEndTurn(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if f.pipeline.State() != StateRunning {
		t.Fatalf("expected running state, got %s", f.pipeline.State())
	}

	f.source.emit(chat.NewComment("c1", chat.PlatformYouTube, "u1", "alice", "hello kaede"))

	waitFor(t, func() bool { return f.player.playCount() == 1 }, "turn did not complete")

	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.pipeline.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", f.pipeline.State())
	}

	// Exactly one exchange recorded.
	msgs := f.window.Context()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in window, got %d", len(msgs))
	}
	if msgs[0].Role != memory.RoleUser || msgs[0].Content != "hello kaede" {
		t.Errorf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != memory.RoleAssistant || msgs[1].Content != "Hi!" {
		t.Errorf("unexpected assistant message: %+v", msgs[1])
	}

	// Prompt carried the persona and the named user message.
	f.gen.mu.Lock()
	defer f.gen.mu.Unlock()
	if len(f.gen.requests) != 1 {
		t.Fatalf("expected one generation request, got %d", len(f.gen.requests))
	}
	req := f.gen.requests[0]
	if req.System == "" {
		t.Error("expected non-empty system prompt")
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "alice: hello kaede" {
		t.Errorf("unexpected prompt messages: %+v", req.Messages)
	}
}

func TestPipeline_StartStopLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Stop is a no-op on a pipeline that never ran.
	if err := f.pipeline.Stop(); err != nil {
		t.Errorf("expected stop on stopped pipeline to be a no-op, got %v", err)
	}
	if f.pipeline.State() != StateStopped {
		t.Errorf("unexpected state %s", f.pipeline.State())
	}

	if err := f.pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.pipeline.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := f.pipeline.Stop(); err != nil {
		t.Errorf("expected double stop to be a no-op, got %v", err)
	}
	if f.pipeline.State() != StateStopped {
		t.Errorf("unexpected state after double stop %s", f.pipeline.State())
	}

	// The pipeline restarts cleanly after a stop.
	if err := f.pipeline.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	f.pipeline.Stop()
}

func TestPipeline_ChatFailureIsFatal(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *Config) {
		d.Source = &stubSource{connectErr: errors.New("stream offline")}
	})

	err := f.pipeline.Start(context.Background())
	if err == nil {
		t.Fatal("expected start to fail")
	}
	if f.pipeline.State() != StateError {
		t.Errorf("expected error state, got %s", f.pipeline.State())
	}
}

type mouthRecorder struct {
	mu    sync.Mutex
	calls int
}

func (m *mouthRecorder) SetMouthOpen(context.Context, float64) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return nil
}

func (m *mouthRecorder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type expressionRecorder struct {
	mu    sync.Mutex
	calls int
}

func (r *expressionRecorder) SetExpression(context.Context, string) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return nil
}

func (r *expressionRecorder) SetParameters(context.Context, map[string]float64) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return nil
}

func (r *expressionRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestPipeline_AvatarFailureDisablesLipSyncAndExpressions(t *testing.T) {
	mouth := &mouthRecorder{}
	expr := &expressionRecorder{}

	f := newFixture(t, func(d *Deps, _ *Config) {
		d.Avatar = &stubAvatar{connectErr: errors.New("vtube studio not running")}
		d.LipSync = lipsync.NewDriver(mouth, nil, zerolog.Nop())
		analyzer := emotion.NewAnalyzer(zerolog.Nop(), nil, nil)
		d.Emotion = emotion.NewController(analyzer, expr, zerolog.Nop())
	})

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed without avatar, got %v", err)
	}

	f.source.emit(chat.NewComment("c1", chat.PlatformYouTube, "u1", "alice", "hello"))
	waitFor(t, func() bool { return f.player.playCount() == 1 }, "turn did not complete")
	f.pipeline.Stop()

	// With no avatar, neither the mouth nor the expression sink is driven.
	if mouth.callCount() != 0 {
		t.Errorf("expected no mouth updates, got %d", mouth.callCount())
	}
	if expr.callCount() != 0 {
		t.Errorf("expected no expression updates, got %d", expr.callCount())
	}
}

func TestPipeline_StopDisconnectsAvatar(t *testing.T) {
	av := &stubAvatar{}
	f := newFixture(t, func(d *Deps, _ *Config) {
		d.Avatar = av
	})

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if av.disconnectCount() != 1 {
		t.Errorf("expected one avatar disconnect, got %d", av.disconnectCount())
	}
}

func TestPipeline_ListenerFailureMovesToError(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *Config) {
		d.Source = &stubSource{listenErr: errors.New("stream went offline")}
	})

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool { return f.pipeline.State() == StateError }, "pipeline did not enter error state")

	// Stop recovers the pipeline to stopped.
	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("stop after error: %v", err)
	}
	if f.pipeline.State() != StateStopped {
		t.Errorf("unexpected state %s", f.pipeline.State())
	}
}

func TestPipeline_GenerationFailureAbortsTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.err = errors.New("model overloaded")

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.source.emit(chat.NewComment("c1", chat.PlatformYouTube, "u1", "bob", "hello"))

	waitFor(t, func() bool {
		f.gen.mu.Lock()
		defer f.gen.mu.Unlock()
		return len(f.gen.requests) >= 1
	}, "generation was not attempted")

	f.pipeline.Stop()

	if f.player.playCount() != 0 {
		t.Errorf("expected no playback after generation failure, got %d", f.player.playCount())
	}
	// A failed turn commits nothing to memory.
	if f.window.Len() != 0 {
		t.Errorf("expected empty window after failed turn, got %+v", f.window.Context())
	}
}

func TestPipeline_FailedTurnLeavesNoDanglingUserMessage(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.gen.mu.Lock()
	f.gen.err = errors.New("model overloaded")
	f.gen.mu.Unlock()
	f.source.emit(chat.NewComment("c1", chat.PlatformYouTube, "u1", "dan", "first question"))
	waitFor(t, func() bool {
		f.gen.mu.Lock()
		defer f.gen.mu.Unlock()
		return len(f.gen.requests) == 1
	}, "first turn did not run")

	f.gen.mu.Lock()
	f.gen.err = nil
	f.gen.mu.Unlock()
	f.source.emit(chat.NewComment("c2", chat.PlatformYouTube, "u2", "erin", "second question"))
	waitFor(t, func() bool { return f.player.playCount() == 1 }, "second turn did not complete")
	f.pipeline.Stop()

	// The failed first turn must not leak into the second prompt.
	f.gen.mu.Lock()
	defer f.gen.mu.Unlock()
	if len(f.gen.requests) != 2 {
		t.Fatalf("expected two generation requests, got %d", len(f.gen.requests))
	}
	second := f.gen.requests[1]
	if len(second.Messages) != 1 {
		t.Fatalf("expected exactly one message in the second prompt, got %+v", second.Messages)
	}
	if second.Messages[0].Content != "erin: second question" {
		t.Errorf("unexpected prompt message %q", second.Messages[0].Content)
	}

	msgs := f.window.Context()
	if len(msgs) != 2 || msgs[0].Content != "second question" {
		t.Errorf("unexpected window contents: %+v", msgs)
	}
}

func TestPipeline_SynthesisFailureStillRecordsResponse(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *Config) {
		d.Engine = &stubEngine{err: errors.New("voicevox down")}
	})

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.source.emit(chat.NewComment("c1", chat.PlatformTwitch, "u1", "carol", "hello"))

	waitFor(t, func() bool {
		f.gen.mu.Lock()
		defer f.gen.mu.Unlock()
		return len(f.gen.requests) == 1
	}, "turn did not run")
	// Give the post-generation stages a moment to finish.
	time.Sleep(50 * time.Millisecond)
	f.pipeline.Stop()

	msgs := f.window.Context()
	if len(msgs) != 2 {
		t.Fatalf("expected full exchange despite TTS failure, got %d messages", len(msgs))
	}
	if f.player.playCount() != 0 {
		t.Errorf("expected no playback, got %d", f.player.playCount())
	}
}

func TestPipeline_RespondToBypassesQueue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.pipeline.RespondTo(ctx, "operator", "test line"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning before start, got %v", err)
	}

	if err := f.pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.pipeline.RespondTo(ctx, "operator", "test line"); err != nil {
		t.Fatalf("respond: %v", err)
	}
	f.pipeline.Stop()

	msgs := f.window.Context()
	if len(msgs) != 2 {
		t.Fatalf("expected one exchange, got %d messages", len(msgs))
	}
	if f.player.playCount() != 1 {
		t.Errorf("expected one playback, got %d", f.player.playCount())
	}
}

func TestPipeline_SpeakWithoutLLM(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.pipeline.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.pipeline.Speak(ctx, "announcement"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	f.pipeline.Stop()

	if f.player.playCount() != 1 {
		t.Errorf("expected one playback, got %d", f.player.playCount())
	}
	if f.window.Len() != 0 {
		t.Errorf("expected speak to leave memory untouched, got %d messages", f.window.Len())
	}
	f.gen.mu.Lock()
	defer f.gen.mu.Unlock()
	if len(f.gen.requests) != 0 {
		t.Errorf("expected no generation, got %d requests", len(f.gen.requests))
	}
}

func TestPipeline_RequiresCoreDeps(t *testing.T) {
	_, err := New(zerolog.Nop(), nil, Deps{})
	if err == nil {
		t.Error("expected error for missing dependencies")
	}
}
