package twitch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaede-live/kaede/internal/chat"
)

func TestParsePrivmsg_Plain(t *testing.T) {
	line := `@badge-info=;badges=;display-name=Viewer;id=abc-123;mod=0;tmi-sent-ts=1700000000000;user-id=555 :viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #kaede :hello there`

	comment, ok := parsePrivmsg(line, "kaede")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if comment.ID != "abc-123" {
		t.Errorf("unexpected id %q", comment.ID)
	}
	if comment.UserName != "Viewer" || comment.UserID != "555" {
		t.Errorf("unexpected identity: %+v", comment)
	}
	if comment.Message != "hello there" {
		t.Errorf("unexpected message %q", comment.Message)
	}
	if comment.Platform != chat.PlatformTwitch {
		t.Errorf("unexpected platform %q", comment.Platform)
	}
	if comment.Timestamp.Unix() != 1700000000 {
		t.Errorf("unexpected timestamp %v", comment.Timestamp)
	}
	if comment.Priority != 0 {
		t.Errorf("expected priority 0, got %d", comment.Priority)
	}
}

func TestParsePrivmsg_SubscriberAndMod(t *testing.T) {
	line := `@badges=subscriber/12;display-name=Fan;id=x1;mod=0 :fan!fan@fan.tmi.twitch.tv PRIVMSG #kaede :love the stream`
	comment, ok := parsePrivmsg(line, "kaede")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if !comment.IsMember || comment.Priority != 20 {
		t.Errorf("expected subscriber priority 20, got %+v", comment)
	}

	line = `@badges=moderator/1;display-name=Mod;id=x2;mod=1 :m!m@m.tmi.twitch.tv PRIVMSG #kaede :behave`
	comment, ok = parsePrivmsg(line, "kaede")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if !comment.IsModerator || comment.Priority != 10 {
		t.Errorf("expected moderator priority 10, got %+v", comment)
	}
}

func TestParsePrivmsg_Bits(t *testing.T) {
	line := `@badges=;bits=500;display-name=Cheerer;id=x3;mod=0 :c!c@c.tmi.twitch.tv PRIVMSG #kaede :cheer500 nice`
	comment, ok := parsePrivmsg(line, "kaede")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if comment.DonationAmount != 500 || comment.DonationCurrency != "bits" {
		t.Errorf("unexpected donation: %+v", comment)
	}
	if comment.Priority != 105 {
		t.Errorf("expected cheer priority 105, got %d", comment.Priority)
	}
}

func TestParsePrivmsg_Rejections(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"wrong channel", `:u!u@u.tmi.twitch.tv PRIVMSG #other :hi`},
		{"not privmsg", `:tmi.twitch.tv 001 nick :Welcome`},
		{"garbage", `random noise`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := parsePrivmsg(tc.line, "kaede"); ok {
				t.Errorf("expected rejection for %q", tc.line)
			}
		})
	}
}

func TestUnescapeIRC(t *testing.T) {
	if got := unescapeIRC(`hello\sworld\:more`); got != "hello world;more" {
		t.Errorf("unexpected unescape result %q", got)
	}
}

func TestClient_ConnectRequiresChannel(t *testing.T) {
	c := New(zerolog.Nop(), Config{})
	if err := c.Connect(context.Background()); err == nil {
		t.Error("expected error for missing channel")
	}
}

func TestClient_AnonymousCredentials(t *testing.T) {
	c := New(zerolog.Nop(), Config{Channel: "kaede"})
	nick, pass := c.credentials()
	if pass != "SCHMOOPIIE" {
		t.Errorf("expected anonymous password, got %q", pass)
	}
	if len(nick) == 0 || nick[:9] != "justinfan" {
		t.Errorf("expected justinfan nick, got %q", nick)
	}
}

func TestClient_ListenStopsOnCancel(t *testing.T) {
	c := New(zerolog.Nop(), Config{Channel: "kaede", URL: "ws://127.0.0.1:1"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Listen(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not stop after cancellation")
	}
}
