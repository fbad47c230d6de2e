package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// CachingEngine wraps an Engine with an in-memory synthesis cache. Repeated
// lines (greetings, fillers, manual speaks) skip the engine round trip.
type CachingEngine struct {
	inner  Engine
	cache  *gocache.Cache
	logger zerolog.Logger
}

// NewCachingEngine wraps inner with a cache using the given TTL. Entries are
// evicted lazily; audio for a typical line is tens of kilobytes so a small
// stream's working set stays modest.
func NewCachingEngine(inner Engine, ttl time.Duration, logger zerolog.Logger) *CachingEngine {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachingEngine{
		inner:  inner,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger.With().Str("component", "tts-cache").Logger(),
	}
}

// Name returns the wrapped engine's identifier.
func (c *CachingEngine) Name() string { return c.inner.Name() }

func cacheKey(text string, speakerID int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d\x00%s", speakerID, text)))
	return hex.EncodeToString(sum[:])
}

// Synthesize returns cached audio when the same text and speaker were
// rendered recently, otherwise delegates to the wrapped engine.
func (c *CachingEngine) Synthesize(ctx context.Context, text string, speakerID int) (*AudioData, error) {
	key := cacheKey(text, speakerID)
	if cached, ok := c.cache.Get(key); ok {
		c.logger.Debug().Int("speaker", speakerID).Msg("Synthesis cache hit")
		return cached.(*AudioData), nil
	}

	audio, err := c.inner.Synthesize(ctx, text, speakerID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, audio)
	return audio, nil
}

// ListSpeakers delegates to the wrapped engine.
func (c *CachingEngine) ListSpeakers(ctx context.Context) ([]Speaker, error) {
	return c.inner.ListSpeakers(ctx)
}

// Ping delegates to the wrapped engine.
func (c *CachingEngine) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}
