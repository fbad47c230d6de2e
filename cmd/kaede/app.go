package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kaede-live/kaede/internal/audio"
	"github.com/kaede-live/kaede/internal/avatar"
	"github.com/kaede-live/kaede/internal/bus"
	"github.com/kaede-live/kaede/internal/chat"
	"github.com/kaede-live/kaede/internal/chat/twitch"
	"github.com/kaede-live/kaede/internal/chat/youtube"
	"github.com/kaede-live/kaede/internal/config"
	"github.com/kaede-live/kaede/internal/dashboard"
	"github.com/kaede-live/kaede/internal/emotion"
	"github.com/kaede-live/kaede/internal/lipsync"
	"github.com/kaede-live/kaede/internal/llm"
	"github.com/kaede-live/kaede/internal/logging"
	"github.com/kaede-live/kaede/internal/memory"
	"github.com/kaede-live/kaede/internal/pipeline"
	"github.com/kaede-live/kaede/internal/tts"
)

// App bundles the assembled components for the run command.
type App struct {
	config    *config.Config
	log       *logging.Logger
	queue     *chat.CommentQueue
	pipeline  *pipeline.Pipeline
	dashboard *dashboard.Server
	store     *memory.Store
	avatar    *avatar.VTubeStudio
	stopWatch chan struct{}
}

// buildApp wires every component from configuration.
func buildApp(cfg *config.Config, log *logging.Logger) (*App, error) {
	events := bus.NewEventBus()

	ngWords := cfg.Queue.NGWords
	if cfg.Queue.NGWordsFile != "" {
		words, err := chat.LoadNGWordsFile(cfg.Queue.NGWordsFile)
		if err != nil {
			return nil, fmt.Errorf("load ng words: %w", err)
		}
		ngWords = append(ngWords, words...)
	}
	queue := chat.NewCommentQueue(cfg.Queue.MaxSize, ngWords, log.Component("queue"))

	source, err := newChatSource(cfg, log)
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(cfg, log)
	if err != nil {
		return nil, err
	}

	character := llm.DefaultCharacter()
	if cfg.Character.File != "" {
		character, err = llm.LoadCharacter(cfg.Character.File)
		if err != nil {
			return nil, fmt.Errorf("load character: %w", err)
		}
	}

	engine := newTTSEngine(cfg, log)

	vts := avatar.NewVTubeStudio(log.Component("avatar"), &cfg.Avatar)

	analyzer := emotion.NewAnalyzer(log.Component("emotion"), nil, nil)
	emotionCtrl := emotion.NewController(analyzer, vts, log.Component("emotion"))

	lipSync := lipsync.NewDriver(vts, &cfg.LipSync, log.Component("lipsync"))

	player, err := audio.NewExecPlayer(log.Component("audio"), "")
	if err != nil {
		audioLog := log.Component("audio")
		audioLog.Warn().Err(err).Msg("No audio player found, playback disabled")
		player = nil
	}

	var store *memory.Store
	var retriever *memory.Retriever
	if cfg.Memory.DBPath != "" {
		store, err = memory.OpenStore(cfg.Memory.DBPath, log.Component("memory"))
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
		retriever = memory.NewRetriever(store, cfg.Memory.RetrieveLimit)
	}

	deps := pipeline.Deps{
		Queue:     queue,
		Source:    source,
		Window:    memory.NewWindow(cfg.Memory.WindowSize),
		Store:     store,
		Retriever: retriever,
		Generator: generator,
		Character: character,
		Engine:    engine,
		LipSync:   lipSync,
		Avatar:    vts,
		Emotion:   emotionCtrl,
		Bus:       events,
	}
	if player != nil {
		deps.Player = player
	}

	p, err := pipeline.New(log.Component("pipeline"), &cfg.Pipeline, deps)
	if err != nil {
		return nil, err
	}

	server := dashboard.New(log.Component("dashboard"), &cfg.Dashboard, p, queue, log, events)

	return &App{
		config:    cfg,
		log:       log,
		queue:     queue,
		pipeline:  p,
		dashboard: server,
		store:     store,
		avatar:    vts,
		stopWatch: make(chan struct{}),
	}, nil
}

// Run starts the pipeline and serves the dashboard until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}

	if a.config.Queue.NGWordsFile != "" {
		if err := a.queue.WatchNGWordsFile(a.config.Queue.NGWordsFile, a.stopWatch); err != nil {
			queueLog := a.log.Component("queue")
			queueLog.Warn().Err(err).Msg("NG word watch unavailable")
		}
	}

	err := a.dashboard.Start(ctx)

	if stopErr := a.pipeline.Stop(); stopErr != nil {
		pipelineLog := a.log.Component("pipeline")
		pipelineLog.Warn().Err(stopErr).Msg("Pipeline shutdown error")
	}
	return err
}

// Close releases resources held outside the pipeline lifecycle.
func (a *App) Close() {
	close(a.stopWatch)
	if a.avatar != nil {
		a.avatar.Disconnect()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// newChatSource picks the comment source for the configured platform.
func newChatSource(cfg *config.Config, log *logging.Logger) (chat.Source, error) {
	switch cfg.Chat.Platform {
	case "youtube":
		return youtube.New(log.Component("youtube"), cfg.Chat.YouTube), nil
	case "twitch":
		return twitch.New(log.Component("twitch"), cfg.Chat.Twitch), nil
	default:
		return nil, fmt.Errorf("unknown chat platform %q", cfg.Chat.Platform)
	}
}

// newGenerator picks the LLM backend.
func newGenerator(cfg *config.Config, log *logging.Logger) (llm.Generator, error) {
	switch cfg.LLM.Backend {
	case "openai":
		return llm.NewOpenAIClient(log.Component("llm"), &cfg.LLM.OpenAI), nil
	case "ollama":
		return llm.NewOllamaClient(log.Component("llm"), &cfg.LLM.Ollama), nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.LLM.Backend)
	}
}

// newTTSEngine builds the VOICEVOX engine, wrapped in a cache when enabled.
func newTTSEngine(cfg *config.Config, log *logging.Logger) tts.Engine {
	var engine tts.Engine = tts.NewVoicevoxEngine(log.Component("tts"), &cfg.TTS.Voicevox)
	if cfg.TTS.CacheEnabled {
		ttl := time.Duration(cfg.TTS.CacheTTLSecs) * time.Second
		engine = tts.NewCachingEngine(engine, ttl, log.Component("tts"))
	}
	return engine
}

// askOnce runs a single generate-and-speak turn without a chat stream,
// used by the ask command.
func askOnce(ctx context.Context, cfg *config.Config, log *logging.Logger, text string) error {
	generator, err := newGenerator(cfg, log)
	if err != nil {
		return err
	}

	character := llm.DefaultCharacter()
	if cfg.Character.File != "" {
		character, err = llm.LoadCharacter(cfg.Character.File)
		if err != nil {
			return fmt.Errorf("load character: %w", err)
		}
	}

	resp, err := generator.Generate(ctx, &llm.Request{
		System:    character.SystemPrompt(),
		Messages:  []llm.Message{{Role: "user", Content: text}},
		MaxTokens: cfg.Pipeline.MaxResponseTokens,
	})
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	fmt.Println(resp.Text)

	return sayOnce(ctx, cfg, log, resp.Text, cfg.Pipeline.SpeakerID)
}

// sayOnce synthesizes one line and plays it, used by the say command.
func sayOnce(ctx context.Context, cfg *config.Config, log *logging.Logger, text string, speakerID int) error {
	engine := newTTSEngine(cfg, log)

	data, err := engine.Synthesize(ctx, text, speakerID)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	player, err := audio.NewExecPlayer(log.Component("audio"), "")
	if err != nil {
		return fmt.Errorf("no audio player available: %w", err)
	}
	return player.Play(ctx, data.Data)
}
