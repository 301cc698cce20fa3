// Package tokens counts tokens for cost estimation. A tiktoken encoding is used
// when configured; otherwise a character based heuristic stands in.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter reports the number of tokens in a piece of text.
type Counter interface {
	Count(text string) int
}

// Heuristic estimates tokens as max(runes/4, word count), minimum 1 for
// non-blank text.
type Heuristic struct{}

// Count implements Counter.
func (Heuristic) Count(text string) int {
	return EstimateFast(text)
}

// EstimateFast is the heuristic used by Heuristic and as the tiktoken fallback.
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

// Tiktoken counts tokens with a named BPE encoding such as cl100k_base. The
// encoding is loaded on first use; if loading fails the heuristic is used.
type Tiktoken struct {
	name string

	once     sync.Once
	encoding *tiktoken.Tiktoken
	initErr  error
}

// NewTiktoken returns a lazily initialised tiktoken counter.
func NewTiktoken(encoding string) *Tiktoken {
	return &Tiktoken{name: encoding}
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	t.once.Do(func() {
		t.encoding, t.initErr = tiktoken.GetEncoding(t.name)
	})
	if t.encoding == nil {
		return EstimateFast(text)
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// Err reports the initialisation error, if the encoding has been loaded and failed.
func (t *Tiktoken) Err() error {
	return t.initErr
}

// New returns a Counter for the given encoding name. Empty selects Heuristic.
func New(encoding string) Counter {
	if strings.TrimSpace(encoding) == "" {
		return Heuristic{}
	}
	return NewTiktoken(strings.TrimSpace(encoding))
}
