// Package youtube reads YouTube live chat through the innertube polling
// API. No API key quota is consumed; the client bootstraps the same way a
// browser does and follows continuation tokens.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kaede-live/kaede/internal/chat"
)

// Config locates the live stream to read.
type Config struct {
	LiveURL string `mapstructure:"live_url"`
}

// Client implements chat.Source for YouTube Live.
type Client struct {
	config  Config
	handler chat.Handler
	http    *http.Client
	logger  zerolog.Logger
}

// New creates a client for the given live URL.
func New(logger zerolog.Logger, config Config) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger.With().Str("component", "youtube-chat").Logger(),
	}
}

// OnComment registers the delivery handler.
func (c *Client) OnComment(h chat.Handler) {
	c.handler = h
}

// Connect validates the configured URL. The actual session is established
// lazily by Listen, which re-bootstraps on every failure anyway.
func (c *Client) Connect(_ context.Context) error {
	liveURL := strings.TrimSpace(c.config.LiveURL)
	if liveURL == "" {
		return errors.New("youtube: live_url is required")
	}
	if _, err := url.ParseRequestURI(liveURL); err != nil {
		return errors.Wrap(err, "youtube: invalid live_url")
	}
	return nil
}

// Disconnect is a no-op; polling stops when Listen's context is cancelled.
func (c *Client) Disconnect() error { return nil }

// Listen polls the live chat until the context is cancelled, delivering
// comments to the registered handler. Transient failures re-bootstrap with
// exponential backoff.
func (c *Client) Listen(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	var session *pollSession
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if session == nil {
			s, err := c.bootstrap(ctx)
			if err != nil {
				c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Bootstrap failed")
				if !sleepContext(ctx, backoff) {
					return ctx.Err()
				}
				backoff = nextBackoff(backoff, maxBackoff)
				continue
			}
			c.logger.Info().Str("client_version", s.clientVersion).Msg("Live chat session established")
			session = s
			backoff = time.Second
		}

		comments, nextContinuation, timeout, err := c.poll(ctx, session)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Poll failed, re-bootstrapping")
			session = nil
			if !sleepContext(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		if c.handler != nil {
			for _, comment := range comments {
				c.handler(comment)
			}
		}

		session.continuation = nextContinuation
		if session.continuation == "" {
			c.logger.Debug().Msg("Continuation missing, re-bootstrapping")
			session = nil
		}

		if timeout <= 0 {
			timeout = 1500
		}
		if !sleepContext(ctx, time.Duration(timeout)*time.Millisecond) {
			return ctx.Err()
		}
	}
}

type pollSession struct {
	apiKey        string
	clientVersion string
	continuation  string
}

func (c *Client) bootstrap(ctx context.Context) (*pollSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.LiveURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, err
	}
	text := string(body)

	session := &pollSession{
		apiKey:        extractString(text, `"INNERTUBE_API_KEY":"`),
		clientVersion: extractString(text, `"INNERTUBE_CLIENT_VERSION":"`),
	}
	if session.apiKey == "" || session.clientVersion == "" {
		return nil, errors.New("could not locate api key or client version")
	}

	var initJSON string
	for _, marker := range []string{
		`ytInitialData"] = `,
		`ytInitialData" = `,
		`ytInitialData":`,
		`ytInitialData = `,
		`window["ytInitialData"] = `,
	} {
		if initJSON = extractJSONObject(text, marker); initJSON != "" {
			break
		}
	}
	if initJSON == "" {
		return nil, errors.New("could not locate initial data")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(initJSON), &data); err != nil {
		return nil, errors.Wrap(err, "parse initial data")
	}

	session.continuation = findInitialContinuation(data)
	if session.continuation == "" {
		return nil, errors.New("continuation not found in initial data")
	}
	return session, nil
}

const userAgent = "Mozilla/5.0 (compatible; kaede-live/1.0)"

func (c *Client) poll(ctx context.Context, session *pollSession) ([]chat.Comment, string, int, error) {
	endpoint := fmt.Sprintf(
		"https://www.youtube.com/youtubei/v1/live_chat/get_live_chat?key=%s",
		url.QueryEscape(session.apiKey))

	payload := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    "WEB",
				"clientVersion": session.clientVersion,
				"hl":            "ja",
			},
		},
		"continuation": session.continuation,
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, session.continuation, 1500, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, session.continuation, 1500, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, session.continuation, 1500, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, session.continuation, 1500,
			errors.Errorf("poll status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, session.continuation, 1500, err
	}

	var pollResp map[string]any
	if err := json.Unmarshal(body, &pollResp); err != nil {
		return nil, session.continuation, 1500, errors.Wrap(err, "decode poll response")
	}

	continuation, timeout := extractContinuation(pollResp)
	return extractComments(pollResp), continuation, timeout, nil
}

func extractComments(payload map[string]any) []chat.Comment {
	var comments []chat.Comment
	add := func(renderer map[string]any, paid bool) {
		if comment, ok := buildComment(renderer, paid); ok {
			comments = append(comments, comment)
		}
	}

	for _, action := range gatherActions(payload) {
		if renderer := digMap(action, "addChatItemAction", "item", "liveChatTextMessageRenderer"); renderer != nil {
			add(renderer, false)
		}
		if renderer := digMap(action, "addChatItemAction", "item", "liveChatPaidMessageRenderer"); renderer != nil {
			add(renderer, true)
		}
		if appendAction := digMap(action, "appendContinuationItemsAction"); appendAction != nil {
			items, _ := appendAction["continuationItems"].([]any)
			for _, item := range items {
				itemMap, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if renderer, ok := itemMap["liveChatTextMessageRenderer"].(map[string]any); ok {
					add(renderer, false)
				}
				if renderer, ok := itemMap["liveChatPaidMessageRenderer"].(map[string]any); ok {
					add(renderer, true)
				}
			}
		}
	}
	return comments
}

func buildComment(renderer map[string]any, paid bool) (chat.Comment, bool) {
	text := textField(renderer, "message")
	if text == "" && !paid {
		return chat.Comment{}, false
	}

	id := stringField(renderer, "id")
	if id == "" {
		id = fmt.Sprintf("yt-%d", time.Now().UnixNano())
	}

	comment := chat.NewComment(
		id,
		chat.PlatformYouTube,
		stringField(renderer, "authorExternalChannelId"),
		textField(renderer, "authorName"),
		text,
	)
	comment.Timestamp = timestampField(renderer, "timestampUsec")

	member, moderator := authorBadges(renderer)
	comment = comment.WithFlags(member, moderator)

	if paid {
		amount, currency := parsePurchaseAmount(textField(renderer, "purchaseAmountText"))
		comment = comment.WithDonation(amount, currency)
		if comment.Message == "" {
			comment.Message = fmt.Sprintf("(Super Chat %s)", textField(renderer, "purchaseAmountText"))
		}
	}
	return comment, true
}

// authorBadges inspects badge renderers for membership and moderator
// status.
func authorBadges(renderer map[string]any) (member, moderator bool) {
	badges, _ := renderer["authorBadges"].([]any)
	for _, badge := range badges {
		badgeMap, ok := badge.(map[string]any)
		if !ok {
			continue
		}
		inner := digMap(badgeMap, "liveChatAuthorBadgeRenderer")
		if inner == nil {
			continue
		}
		if icon := digMap(inner, "icon"); icon != nil {
			switch stringField(icon, "iconType") {
			case "MODERATOR":
				moderator = true
			case "OWNER":
				moderator = true
			}
		}
		// Membership badges carry a custom thumbnail instead of an icon.
		if digMap(inner, "customThumbnail") != nil {
			member = true
		}
	}
	return member, moderator
}

// parsePurchaseAmount reads strings like "¥1,000" or "$5.00". The integer
// part is enough for prioritization.
func parsePurchaseAmount(s string) (int, string) {
	var digits, currency strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.':
			// Truncate at the decimal point.
			if amount, err := strconv.Atoi(digits.String()); err == nil {
				return amount, strings.TrimSpace(currency.String())
			}
			return 0, strings.TrimSpace(currency.String())
		case r == ',':
		default:
			if digits.Len() == 0 {
				currency.WriteRune(r)
			}
		}
	}
	amount, _ := strconv.Atoi(digits.String())
	return amount, strings.TrimSpace(currency.String())
}

func gatherActions(payload map[string]any) []map[string]any {
	var out []map[string]any
	collect := func(arr []any) {
		for _, item := range arr {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	if arr, ok := payload["actions"].([]any); ok {
		collect(arr)
	}
	if arr, ok := payload["onResponseReceivedActions"].([]any); ok {
		collect(arr)
	}
	if lc := digMap(payload, "continuationContents", "liveChatContinuation"); lc != nil {
		if arr, ok := lc["actions"].([]any); ok {
			collect(arr)
		}
	}
	return out
}

func extractContinuation(payload map[string]any) (string, int) {
	cont := ""
	timeout := 0

	var walk func(any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if cont == "" {
				if s, ok := val["continuation"].(string); ok && s != "" {
					cont = s
				}
				if cmd := digMap(val, "continuationEndpoint", "continuationCommand"); cmd != nil {
					if s, ok := cmd["token"].(string); ok && s != "" {
						cont = s
					}
				}
				if cmd := digMap(val, "liveChatContinuationEndpoint", "continuationCommand"); cmd != nil {
					if s, ok := cmd["token"].(string); ok && s != "" {
						cont = s
					}
				}
			}
			if timeout == 0 {
				if tm, ok := val["timeoutMs"].(float64); ok && tm > 0 {
					timeout = int(tm)
				}
			}
			for _, child := range val {
				walk(child)
			}
		case []any:
			for _, child := range val {
				walk(child)
			}
		}
	}

	walk(payload)
	return cont, timeout
}

func findInitialContinuation(data map[string]any) string {
	type queueItem struct {
		value      any
		inLiveChat bool
	}

	queue := []queueItem{{value: data}}
	for len(queue) > 0 {
		var item queueItem
		item, queue = queue[0], queue[1:]
		switch v := item.value.(type) {
		case map[string]any:
			currentLiveChat := item.inLiveChat || mapHasLiveChatKey(v)
			if currentLiveChat {
				if cont := continuationFromNode(v); cont != "" {
					return cont
				}
			}
			for key, child := range v {
				queue = append(queue, queueItem{
					value:      child,
					inLiveChat: currentLiveChat || isLiveChatKey(key),
				})
			}
		case []any:
			for _, child := range v {
				queue = append(queue, queueItem{value: child, inLiveChat: item.inLiveChat})
			}
		}
	}
	return ""
}

func isLiveChatKey(key string) bool {
	return strings.Contains(strings.ToLower(key), "livechat")
}

func mapHasLiveChatKey(m map[string]any) bool {
	for key := range m {
		if isLiveChatKey(key) {
			return true
		}
	}
	return false
}

func continuationFromNode(node map[string]any) string {
	if arr, ok := node["continuations"].([]any); ok {
		for _, elem := range arr {
			if m, ok := elem.(map[string]any); ok {
				for _, key := range []string{"invalidationContinuationData", "timedContinuationData", "reloadContinuationData"} {
					if next := digMap(m, key); next != nil {
						if s, ok := next["continuation"].(string); ok && s != "" {
							return s
						}
					}
				}
			}
		}
	}
	if endpoint := digMap(node, "continuationEndpoint", "continuationCommand"); endpoint != nil {
		if s, ok := endpoint["token"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func textField(m map[string]any, key string) string {
	nested, ok := m[key].(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := nested["simpleText"].(string); ok {
		return s
	}
	runs, ok := nested["runs"].([]any)
	if !ok {
		return ""
	}
	var builder strings.Builder
	for _, run := range runs {
		if part, ok := run.(map[string]any); ok {
			if text, ok := part["text"].(string); ok {
				builder.WriteString(text)
			}
		}
	}
	return builder.String()
}

func timestampField(m map[string]any, key string) time.Time {
	switch v := m[key].(type) {
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(0, n*1000).UTC()
		}
	case float64:
		return time.Unix(0, int64(v)*1000).UTC()
	}
	return time.Now().UTC()
}

func extractJSONObject(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx == -1 {
		return ""
	}
	start := idx + len(marker)
	for start < len(text) && (text[start] == ' ' || text[start] == '\n' || text[start] == '\r' || text[start] == '\t') {
		start++
	}
	if start >= len(text) || text[start] != '{' {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func extractString(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx == -1 {
		return ""
	}
	start := idx + len(marker)
	end := strings.Index(text[start:], "\"")
	if end == -1 {
		return ""
	}
	return text[start : start+end]
}

func digMap(m map[string]any, keys ...string) map[string]any {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
