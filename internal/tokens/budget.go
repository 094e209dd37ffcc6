// Package tokens trims conversation history to fit the model's context
// window before a request is sent. Known model families use tiktoken for
// accurate counts; anything else falls back to a character-ratio
// estimator.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// estimatorCharsPerToken is the fallback ratio for models without a
// known encoding.
const estimatorCharsPerToken = 4.0

// perMessageOverhead approximates the framing tokens each chat message
// costs beyond its text.
const perMessageOverhead = 4

// Budgeter counts tokens and trims message history to a limit.
type Budgeter struct {
	limit int

	mu    sync.Mutex
	codec tokenizer.Codec // nil when falling back to estimation
}

// NewBudgeter creates a budgeter for the given model with a total
// history budget of limit tokens.
func NewBudgeter(model string, limit int) *Budgeter {
	b := &Budgeter{limit: limit}
	if codec, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
		b.codec = codec
	} else if enc, ok := encodingFor(model); ok {
		if codec, err := tokenizer.Get(enc); err == nil {
			b.codec = codec
		}
	}
	return b
}

// encodingFor maps known model families to their tokenizer encoding.
// Models outside these families use the character-ratio estimator.
func encodingFor(model string) (tokenizer.Encoding, bool) {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase, true
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase, true
	default:
		return "", false
	}
}

// Count returns the token count of text.
func (b *Budgeter) Count(text string) int {
	b.mu.Lock()
	codec := b.codec
	b.mu.Unlock()

	if codec != nil {
		if count, err := codec.Count(text); err == nil {
			return count
		}
	}
	return int(float64(len(text))/estimatorCharsPerToken) + 1
}

// Countable is the minimal shape TrimMessages needs from a message.
type Countable struct {
	Role    string
	Content string
}

// TrimMessages drops the oldest messages until the history fits the
// budget. The most recent message is always kept even if it alone
// exceeds the limit, so a send is never silently emptied.
func (b *Budgeter) TrimMessages(msgs []Countable) []Countable {
	if len(msgs) == 0 || b.limit <= 0 {
		return msgs
	}

	costs := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		costs[i] = b.Count(m.Content) + perMessageOverhead
		total += costs[i]
	}

	start := 0
	for total > b.limit && start < len(msgs)-1 {
		total -= costs[start]
		start++
	}
	return msgs[start:]
}
