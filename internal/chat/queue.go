package chat

import (
	"container/heap"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// CommentQueue is a bounded max-priority queue with duplicate and NG-word
// filtering. It is the sole gatekeeper between chat ingestion and the
// response pipeline: the producer (chat listener) pushes, the single
// consumer (turn loop) pops, and one mutex serializes both.
//
// When full, a push inserts the new comment and then evicts the current
// lowest-priority entry, so the queue always retains the maxSize
// highest-priority comments admitted so far. When the new comment ties the
// current minimum, the evicted entry may be the new comment itself. Order
// between equal priorities is unspecified.
type CommentQueue struct {
	mu      sync.Mutex
	items   commentHeap
	maxSize int

	ngPattern *regexp.Regexp

	// Dedup set, insertion-ordered so trimming can discard the oldest half.
	// The cap is 2*maxSize; trimming is an approximation, not strict LRU.
	seenIDs   map[string]struct{}
	seenOrder []string

	logger zerolog.Logger
}

// NewCommentQueue creates a queue holding at most maxSize comments.
// A maxSize of 0 rejects every push.
func NewCommentQueue(maxSize int, ngWords []string, logger zerolog.Logger) *CommentQueue {
	q := &CommentQueue{
		items:   make(commentHeap, 0, maxSize),
		maxSize: maxSize,
		seenIDs: make(map[string]struct{}),
		logger:  logger.With().Str("component", "comment-queue").Logger(),
	}
	q.ngPattern = compileNGPattern(ngWords)
	return q
}

// Push validates and inserts a comment. It returns false, without mutating
// queue contents, when the comment is a duplicate, has a blank message, or
// matches an NG word. Rejections are silent: debug-logged, never errors.
func (q *CommentQueue) Push(c Comment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	commentsReceived.Inc()
	if q.maxSize <= 0 {
		return false
	}
	if !q.isValidLocked(c) {
		return false
	}

	q.markSeenLocked(c.ID)

	heap.Push(&q.items, c)
	if q.items.Len() > q.maxSize {
		q.evictMinLocked()
	}
	commentsAccepted.Inc()
	queueDepth.Set(float64(q.items.Len()))

	q.logger.Debug().
		Str("user", c.UserName).
		Int("priority", c.Priority).
		Int("queue_size", q.items.Len()).
		Msg("Comment queued")
	return true
}

// Pop removes and returns the highest-priority comment, or false if empty.
func (q *CommentQueue) Pop() (Comment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return Comment{}, false
	}
	c := heap.Pop(&q.items).(Comment)
	queueDepth.Set(float64(q.items.Len()))
	return c, true
}

// Peek returns the highest-priority comment without removing it.
func (q *CommentQueue) Peek() (Comment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return Comment{}, false
	}
	return q.items[0], true
}

// SetNGWords atomically replaces the filter set. It applies to subsequent
// pushes only; comments already queued are not re-filtered.
func (q *CommentQueue) SetNGWords(words []string) {
	pattern := compileNGPattern(words)

	q.mu.Lock()
	q.ngPattern = pattern
	q.mu.Unlock()

	q.logger.Info().Int("words", len(words)).Msg("NG words updated")
}

// Len returns the current queue depth.
func (q *CommentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear drops all queued comments. Seen IDs are retained so duplicates of
// already-processed comments stay rejected.
func (q *CommentQueue) Clear() {
	q.mu.Lock()
	q.items = q.items[:0]
	queueDepth.Set(0)
	q.mu.Unlock()

	q.logger.Info().Msg("Comment queue cleared")
}

func (q *CommentQueue) isValidLocked(c Comment) bool {
	if _, dup := q.seenIDs[c.ID]; dup {
		commentsRejected.WithLabelValues("duplicate").Inc()
		q.logger.Debug().Str("id", c.ID).Msg("Duplicate comment filtered")
		return false
	}
	if strings.TrimSpace(c.Message) == "" {
		commentsRejected.WithLabelValues("empty").Inc()
		q.logger.Debug().Msg("Empty comment filtered")
		return false
	}
	if q.ngPattern != nil && q.ngPattern.MatchString(c.Message) {
		commentsRejected.WithLabelValues("ng_word").Inc()
		q.logger.Debug().Str("user", c.UserName).Msg("NG word found in comment")
		return false
	}
	return true
}

func (q *CommentQueue) markSeenLocked(id string) {
	q.seenIDs[id] = struct{}{}
	q.seenOrder = append(q.seenOrder, id)

	if len(q.seenOrder) > 2*q.maxSize {
		drop := q.seenOrder[:len(q.seenOrder)-q.maxSize]
		for _, old := range drop {
			delete(q.seenIDs, old)
		}
		kept := make([]string, q.maxSize)
		copy(kept, q.seenOrder[len(q.seenOrder)-q.maxSize:])
		q.seenOrder = kept
	}
}

// evictMinLocked removes the lowest-priority entry. Linear scan; queue
// capacity is small (default 100).
func (q *CommentQueue) evictMinLocked() {
	minIdx := 0
	for i := 1; i < q.items.Len(); i++ {
		if q.items[i].Priority < q.items[minIdx].Priority {
			minIdx = i
		}
	}
	evicted := heap.Remove(&q.items, minIdx).(Comment)
	commentsEvicted.Inc()
	q.logger.Debug().
		Str("user", evicted.UserName).
		Int("priority", evicted.Priority).
		Msg("Evicted low-priority comment")
}

func compileNGPattern(words []string) *regexp.Regexp {
	escaped := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		escaped = append(escaped, regexp.QuoteMeta(w))
	}
	if len(escaped) == 0 {
		return nil
	}
	return regexp.MustCompile("(?i)" + strings.Join(escaped, "|"))
}

// commentHeap is a max-heap keyed on priority.
type commentHeap []Comment

func (h commentHeap) Len() int            { return len(h) }
func (h commentHeap) Less(i, j int) bool  { return h[i].Priority > h[j].Priority }
func (h commentHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *commentHeap) Push(x interface{}) { *h = append(*h, x.(Comment)) }

func (h *commentHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
