// Package config provides configuration management for Kaede.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/kaede-live/kaede/internal/avatar"
	"github.com/kaede-live/kaede/internal/chat/twitch"
	"github.com/kaede-live/kaede/internal/chat/youtube"
	"github.com/kaede-live/kaede/internal/dashboard"
	"github.com/kaede-live/kaede/internal/lipsync"
	"github.com/kaede-live/kaede/internal/llm"
	"github.com/kaede-live/kaede/internal/logging"
	"github.com/kaede-live/kaede/internal/pipeline"
	"github.com/kaede-live/kaede/internal/tts"
)

// Config holds all application configuration.
type Config struct {
	Chat      ChatConfig               `mapstructure:"chat"`
	Queue     QueueConfig              `mapstructure:"queue"`
	LLM       LLMConfig                `mapstructure:"llm"`
	Character CharacterConfig          `mapstructure:"character"`
	TTS       TTSConfig                `mapstructure:"tts"`
	Avatar    avatar.VTubeStudioConfig `mapstructure:"avatar"`
	LipSync   lipsync.Config           `mapstructure:"lipsync"`
	Pipeline  pipeline.Config          `mapstructure:"pipeline"`
	Dashboard dashboard.Config         `mapstructure:"dashboard"`
	Memory    MemoryConfig             `mapstructure:"memory"`
	Logging   LoggingConfig            `mapstructure:"logging"`
}

// ChatConfig selects the comment source.
type ChatConfig struct {
	// Platform is "youtube" or "twitch".
	Platform string         `mapstructure:"platform"`
	YouTube  youtube.Config `mapstructure:"youtube"`
	Twitch   twitch.Config  `mapstructure:"twitch"`
}

// QueueConfig tunes comment admission.
type QueueConfig struct {
	MaxSize int `mapstructure:"max_size"`
	// NGWordsFile holds one filtered word per line. When set, the file is
	// watched and reloaded on change.
	NGWordsFile string   `mapstructure:"ng_words_file"`
	NGWords     []string `mapstructure:"ng_words"`
}

// LLMConfig selects the response backend.
type LLMConfig struct {
	// Backend is "openai" or "ollama".
	Backend string           `mapstructure:"backend"`
	OpenAI  llm.OpenAIConfig `mapstructure:"openai"`
	Ollama  llm.OllamaConfig `mapstructure:"ollama"`
}

// CharacterConfig points at the persona definition.
type CharacterConfig struct {
	// File is a YAML character sheet. Empty means the built-in default.
	File string `mapstructure:"file"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	Voicevox     tts.VoicevoxConfig `mapstructure:"voicevox"`
	CacheEnabled bool               `mapstructure:"cache_enabled"`
	CacheTTLSecs int                `mapstructure:"cache_ttl_secs"`
}

// MemoryConfig configures conversation memory.
type MemoryConfig struct {
	WindowSize int `mapstructure:"window_size"`
	// DBPath is the long-term store. Empty disables persistence.
	DBPath        string `mapstructure:"db_path"`
	RetrieveLimit int    `mapstructure:"retrieve_limit"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	MaxHistory int    `mapstructure:"max_history"`
	Console    bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Chat: ChatConfig{
			Platform: "youtube",
		},
		Queue: QueueConfig{
			MaxSize: 100,
		},
		LLM: LLMConfig{
			Backend: "openai",
			OpenAI:  *llm.DefaultOpenAIConfig(),
			Ollama:  *llm.DefaultOllamaConfig(),
		},
		TTS: TTSConfig{
			Voicevox:     *tts.DefaultVoicevoxConfig(),
			CacheEnabled: true,
			CacheTTLSecs: 600,
		},
		Avatar:    *avatar.DefaultVTubeStudioConfig(),
		LipSync:   *lipsync.DefaultConfig(),
		Pipeline:  *pipeline.DefaultConfig(),
		Dashboard: *dashboard.DefaultConfig(),
		Memory: MemoryConfig{
			WindowSize:    20,
			DBPath:        filepath.Join(home, ".kaede", "memory.db"),
			RetrieveLimit: 3,
		},
		Logging: LoggingConfig{
			Dir:        filepath.Join(home, ".kaede", "logs"),
			Level:      "info",
			MaxHistory: 500,
			Console:    true,
		},
	}
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded first so secrets stay out of config.yaml.
// path may be empty; the default search path is ~/.kaede and the working
// directory.
func Load(path string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".kaede"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("KAEDE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvSecrets(cfg)
	return cfg, nil
}

// applyEnvSecrets overlays credentials that should not live in config.yaml.
func applyEnvSecrets(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.OpenAI.APIKey == "" {
		cfg.LLM.OpenAI.APIKey = key
	}
	if token := os.Getenv("TWITCH_OAUTH_TOKEN"); token != "" && cfg.Chat.Twitch.Token == "" {
		cfg.Chat.Twitch.Token = token
	}
}

// Save writes the configuration to the given path, creating the directory
// if needed. The struct is flattened through its mapstructure tags so the
// written keys match what Load expects.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var settings map[string]any
	if err := mapstructure.Decode(cfg, &settings); err != nil {
		return fmt.Errorf("flatten config: %w", err)
	}

	v := viper.New()
	for key, value := range settings {
		v.Set(key, value)
	}
	return v.WriteConfigAs(path)
}

// LoggerConfig converts the logging section into the logger's own config.
func (c *Config) LoggerConfig() *logging.Config {
	return &logging.Config{
		LogDir:     c.Logging.Dir,
		Level:      logging.LogLevel(c.Logging.Level),
		MaxHistory: c.Logging.MaxHistory,
		Console:    c.Logging.Console,
	}
}
