// Package twitch reads Twitch chat over the IRC-over-WebSocket gateway.
// Without credentials it connects anonymously, which is enough to read.
package twitch

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/kaede-live/kaede/internal/chat"
)

// Config identifies the channel and optional credentials.
type Config struct {
	Channel string `mapstructure:"channel"`
	Nick    string `mapstructure:"nick"`
	Token   string `mapstructure:"token"` // "oauth:..." form
	URL     string `mapstructure:"url"`   // override for tests
}

const defaultGatewayURL = "wss://irc-ws.chat.twitch.tv"

var errAuthFailed = errors.New("twitch: authentication failed")

// Client implements chat.Source for Twitch.
type Client struct {
	config  Config
	handler chat.Handler
	logger  zerolog.Logger

	// Twitch drops connections that send too fast; 20 lines per 30s is the
	// unverified-bot budget.
	sendLimit *rate.Limiter
}

// New creates a client for the given channel.
func New(logger zerolog.Logger, config Config) *Client {
	return &Client{
		config:    config,
		logger:    logger.With().Str("component", "twitch-chat").Logger(),
		sendLimit: rate.NewLimiter(rate.Every(1500*time.Millisecond), 5),
	}
}

// OnComment registers the delivery handler.
func (c *Client) OnComment(h chat.Handler) {
	c.handler = h
}

// Connect validates the configuration. The socket itself is owned by
// Listen's reconnect loop.
func (c *Client) Connect(_ context.Context) error {
	if strings.TrimSpace(c.config.Channel) == "" {
		return errors.New("twitch: channel is required")
	}
	return nil
}

// Disconnect is a no-op; the connection closes when Listen's context is
// cancelled.
func (c *Client) Disconnect() error { return nil }

// Listen reads chat until the context is cancelled, reconnecting with
// exponential backoff on failure.
func (c *Client) Listen(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Disconnected, reconnecting")
			if !sleepContext(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *Client) credentials() (nick, pass string) {
	nick = strings.TrimSpace(c.config.Nick)
	pass = strings.TrimSpace(c.config.Token)
	if pass == "" {
		// Anonymous read-only login.
		nick = fmt.Sprintf("justinfan%d", 10000+rand.Intn(80000))
		pass = "SCHMOOPIIE"
	}
	return nick, pass
}

func (c *Client) runOnce(ctx context.Context) error {
	gatewayURL := c.config.URL
	if gatewayURL == "" {
		gatewayURL = defaultGatewayURL
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, gatewayURL, nil)
	cancel()
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	send := func(line string) error {
		if err := c.sendLimit.Wait(ctx); err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, []byte(line))
	}

	nick, pass := c.credentials()
	for _, line := range []string{
		"PASS " + pass,
		"NICK " + nick,
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"JOIN #" + strings.ToLower(c.config.Channel),
	} {
		if err := send(line); err != nil {
			return errors.Wrapf(err, "send %s", strings.Fields(line)[0])
		}
	}
	c.logger.Info().Str("channel", c.config.Channel).Str("nick", nick).Msg("Joined channel")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return errors.Wrap(err, "read")
		}

		// One frame may carry several IRC lines.
		for _, line := range strings.Split(string(data), "\r\n") {
			if line == "" {
				continue
			}

			if authFailure(line) {
				return errAuthFailed
			}
			if strings.HasPrefix(line, "PING ") {
				if err := send("PONG " + strings.TrimPrefix(line, "PING ")); err != nil {
					return errors.Wrap(err, "send PONG")
				}
				continue
			}
			if strings.Contains(line, " RECONNECT") {
				return errors.New("server requested reconnect")
			}

			if comment, ok := parsePrivmsg(line, c.config.Channel); ok && c.handler != nil {
				c.handler(comment)
			}
		}
	}
}

// parsePrivmsg converts a tagged PRIVMSG line into a Comment. Badge tags
// carry membership and moderator status; the bits tag marks cheers.
func parsePrivmsg(line, channel string) (chat.Comment, bool) {
	rest := line
	tags := map[string]string{}

	if strings.HasPrefix(rest, "@") {
		idx := strings.Index(rest, " ")
		if idx == -1 {
			return chat.Comment{}, false
		}
		for _, kv := range strings.Split(rest[1:idx], ";") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			val := ""
			if len(parts) == 2 {
				val = unescapeIRC(parts[1])
			}
			tags[parts[0]] = val
		}
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if !strings.HasPrefix(rest, ":") {
		return chat.Comment{}, false
	}
	rest = rest[1:]

	idx := strings.Index(rest, " ")
	if idx == -1 {
		return chat.Comment{}, false
	}
	prefix := rest[:idx]
	rest = strings.TrimSpace(rest[idx+1:])

	if !strings.HasPrefix(strings.ToUpper(rest), "PRIVMSG #") {
		return chat.Comment{}, false
	}
	rest = rest[len("PRIVMSG #"):]

	idx = strings.Index(rest, " ")
	if idx == -1 {
		return chat.Comment{}, false
	}
	if !strings.EqualFold(rest[:idx], channel) {
		return chat.Comment{}, false
	}
	rest = strings.TrimSpace(rest[idx+1:])

	if !strings.HasPrefix(rest, ":") {
		return chat.Comment{}, false
	}
	text := rest[1:]

	user := extractUser(prefix)
	if display := tags["display-name"]; display != "" {
		user = display
	}

	ts := time.Now().UTC()
	if tsStr := tags["tmi-sent-ts"]; tsStr != "" {
		if ms, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			ts = time.Unix(0, ms*int64(time.Millisecond)).UTC()
		}
	}

	id := tags["id"]
	if id == "" {
		id = fmt.Sprintf("%s-%d", user, ts.UnixNano())
	}

	userID := tags["user-id"]
	if userID == "" {
		userID = extractUser(prefix)
	}

	comment := chat.NewComment(id, chat.PlatformTwitch, userID, user, text)
	comment.Timestamp = ts

	badges := tags["badges"]
	member := strings.Contains(badges, "subscriber/") || strings.Contains(badges, "founder/")
	moderator := tags["mod"] == "1" || strings.Contains(badges, "broadcaster/")
	comment = comment.WithFlags(member, moderator)

	if bitsStr := tags["bits"]; bitsStr != "" {
		if bits, err := strconv.Atoi(bitsStr); err == nil && bits > 0 {
			comment = comment.WithDonation(bits, "bits")
		}
	}

	return comment, true
}

func authFailure(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth") ||
		strings.Contains(lower, "authentication failed")
}

func extractUser(prefix string) string {
	prefix = strings.TrimPrefix(prefix, ":")
	if idx := strings.Index(prefix, "!"); idx != -1 {
		return prefix[:idx]
	}
	return prefix
}

func unescapeIRC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
