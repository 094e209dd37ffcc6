package stream

import (
	"strings"

	"github.com/inkwell-labs/inkwell/internal/llm"
)

// View is a read-only copy of the accumulated channels handed to the
// presentation layer after every mutation. Copy-out, not shared state: a
// slow renderer can never observe a half-applied delta.
type View struct {
	Content     string         `json:"content"`
	Reasoning   string         `json:"reasoning"`
	Citations   []llm.Citation `json:"citations,omitempty"`
	IsSearching bool           `json:"isSearching"`
}

// Accumulator maintains the three response channels for one generation.
// Content and reasoning are append-only; citations are replaced wholesale
// on every citations frame because the backend sends the full current
// list each time.
type Accumulator struct {
	content   strings.Builder
	reasoning strings.Builder
	citations []llm.Citation
	searching bool
}

// NewAccumulator creates an accumulator. When webSearch is set the view
// reports IsSearching until the first citation list arrives or the
// stream finishes.
func NewAccumulator(webSearch bool) *Accumulator {
	return &Accumulator{searching: webSearch}
}

// Apply folds one event into the matching channel and returns the updated
// view. Malformed and done events leave the buffers untouched.
func (a *Accumulator) Apply(ev Event) View {
	switch ev.Kind {
	case EventContent:
		a.content.WriteString(ev.Text)
	case EventReasoning:
		a.reasoning.WriteString(ev.Text)
	case EventCitations:
		a.citations = ev.Citations
		a.searching = false
	case EventDone:
		a.searching = false
	}
	return a.View()
}

// View returns a copy of the current channel state.
func (a *Accumulator) View() View {
	var citations []llm.Citation
	if len(a.citations) > 0 {
		citations = make([]llm.Citation, len(a.citations))
		copy(citations, a.citations)
	}
	return View{
		Content:     a.content.String(),
		Reasoning:   a.reasoning.String(),
		Citations:   citations,
		IsSearching: a.searching,
	}
}

// Content returns the accumulated content channel. The speculative
// extractor runs over this after every content delta.
func (a *Accumulator) Content() string {
	return a.content.String()
}

// Finish clears the searching flag when the stream ends without any
// citations arriving.
func (a *Accumulator) Finish() {
	a.searching = false
}
