// Package tokenutil provides a centralized token counting utility backed by
// tiktoken-go. It lazily initializes the cl100k_base encoding on first use and
// falls back to a character-based heuristic if initialization fails. Counts
// are memoized by content hash because compaction re-estimates the same
// messages many times per run.
package tokenutil

import (
	"crypto/sha256"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
)

const countCacheSize = 4096

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken

	cacheOnce  sync.Once
	countCache *lru.Cache[[32]byte, int]
)

func initEncoding() {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

func cache() *lru.Cache[[32]byte, int] {
	cacheOnce.Do(func() {
		countCache, _ = lru.New[[32]byte, int](countCacheSize)
	})
	return countCache
}

// CountTokens returns a token count using cl100k_base encoding, memoized by
// content hash. If tiktoken is unavailable, it falls back to EstimateFast.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	initEncoding()

	key := sha256.Sum256([]byte(text))
	if c := cache(); c != nil {
		if n, ok := c.Get(key); ok {
			return n
		}
	}

	var n int
	if encoding != nil {
		n = len(encoding.Encode(text, nil, nil))
	} else {
		n = EstimateFast(text)
	}

	if c := cache(); c != nil {
		c.Add(key, n)
	}
	return n
}

// EstimateFast returns a heuristic token estimate: max(runes/4, word_count).
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// TruncateToTokens truncates text to approximately maxTokens.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	initEncoding()
	if encoding != nil {
		tokens := encoding.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return encoding.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}
