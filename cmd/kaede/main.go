// Package main is the entry point for the Kaede CLI. Kaede is an AI
// livestream character that reads live chat, answers with a persona-driven
// LLM and voices the answers through VOICEVOX and VTube Studio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kaede-live/kaede/internal/config"
	"github.com/kaede-live/kaede/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kaede",
		Short: "Kaede - AI livestream character",
		Long: `Kaede reads comments from a YouTube or Twitch livestream, picks the
most interesting ones, answers in character and speaks the answers
through VOICEVOX while driving a VTube Studio avatar.

Start streaming:   kaede run
List voices:       kaede speakers
Test the voice:    kaede say "こんにちは"`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.kaede/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Kaede v%s\n", version)
		},
	})

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(speakersCmd())
	rootCmd.AddCommand(sayCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnvironment loads config and builds the logger shared by every
// command.
func loadEnvironment() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, log, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the livestream pipeline and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer log.Close()

			app, err := buildApp(cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return app.Run(ctx)
		},
	}
}

func speakersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "speakers",
		Short: "List available VOICEVOX speakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer log.Close()

			engine := newTTSEngine(cfg, log)
			speakers, err := engine.ListSpeakers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list speakers: %w", err)
			}

			for _, sp := range speakers {
				fmt.Printf("%4d  %s\n", sp.ID, sp.Name)
			}
			return nil
		},
	}
}

func sayCmd() *cobra.Command {
	var speakerID int

	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Synthesize and play one line, for testing the voice setup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer log.Close()

			return sayOnce(cmd.Context(), cfg, log, args[0], speakerID)
		},
	}
	cmd.Flags().IntVar(&speakerID, "speaker", -1, "speaker ID (default from config)")
	return cmd
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text>",
		Short: "Generate and voice one in-character response, without a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer log.Close()

			return askOnce(cmd.Context(), cfg, log, args[0])
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(config.DefaultConfig(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			fmt.Printf("platform:  %s\n", cfg.Chat.Platform)
			fmt.Printf("backend:   %s\n", cfg.LLM.Backend)
			fmt.Printf("voicevox:  %s (speaker %d)\n", cfg.TTS.Voicevox.BaseURL, cfg.TTS.Voicevox.SpeakerID)
			fmt.Printf("avatar:    %s:%d\n", cfg.Avatar.Host, cfg.Avatar.Port)
			fmt.Printf("dashboard: %s:%d\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
			return nil
		},
	})

	return cmd
}
