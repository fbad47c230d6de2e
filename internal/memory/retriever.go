package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Retriever turns stored interactions into context lines for the system
// prompt. It keeps keyword extraction deliberately simple: token overlap
// against the long-term store, no embeddings.
type Retriever struct {
	store    *Store
	maxItems int
}

// NewRetriever wraps a store. maxItems caps how many past interactions are
// injected into a single prompt.
func NewRetriever(store *Store, maxItems int) *Retriever {
	if maxItems <= 0 {
		maxItems = 3
	}
	return &Retriever{store: store, maxItems: maxItems}
}

// stopwords that carry no retrieval signal. English only; CJK queries fall
// back to whole-message matching.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
	"what": {}, "who": {}, "how": {}, "why": {}, "when": {}, "where": {},
	"do": {}, "does": {}, "did": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"and": {}, "or": {}, "not": {}, "my": {}, "your": {}, "this": {}, "that": {},
}

// Keywords extracts searchable tokens from a message.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var out []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
		if len(out) >= 8 {
			break
		}
	}
	return out
}

// RelevantContext searches the store for interactions related to the given
// message and formats them as a block suitable for appending to the system
// prompt. Returns "" when nothing relevant is found.
func (r *Retriever) RelevantContext(ctx context.Context, userName, message string) (string, error) {
	keywords := Keywords(message)
	if len(keywords) == 0 {
		// Nothing tokenizable; fall back to this user's history.
		if userName == "" {
			return "", nil
		}
	}

	items, err := r.store.Search(ctx, keywords, userName, r.maxItems)
	if err != nil {
		return "", err
	}
	if len(items) == 0 && userName != "" {
		// Widen to any user when the sender has no matching history.
		items, err = r.store.Search(ctx, keywords, "", r.maxItems)
		if err != nil {
			return "", err
		}
	}
	if len(items) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Relevant past conversations:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "- %s said %q, you replied %q\n", it.UserName, it.UserText, it.Response)
	}
	return b.String(), nil
}
