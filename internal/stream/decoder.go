// Package stream decodes the backend's server-sent event stream and
// accumulates the three response channels (content, reasoning, citations).
package stream

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/inkwell-labs/inkwell/internal/llm"
)

// EventKind identifies the channel a decoded frame belongs to.
type EventKind string

const (
	EventContent   EventKind = "content"
	EventReasoning EventKind = "reasoning"
	EventCitations EventKind = "citations"
	EventDone      EventKind = "done"
	EventMalformed EventKind = "malformed"
)

// Event is one decoded unit from the wire. It is consumed immediately by
// the accumulator and not retained.
type Event struct {
	Kind      EventKind
	Text      string
	Citations []llm.Citation
}

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	readChunk    = 4096
)

// Decoder turns a raw byte stream into a sequence of typed events using
// the line-oriented "data: <json>" framing convention.
//
// Splitting happens on newline bytes over a carried byte buffer, so a
// multi-byte UTF-8 sequence split across two reads is reassembled before
// any string conversion. A trailing line with no terminating newline is
// held over to the next read rather than parsed prematurely.
type Decoder struct {
	r       io.Reader
	buf     []byte
	pending []Event
	eof     bool
	done    bool
}

// NewDecoder creates a decoder reading frames from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next decoded event. It returns io.EOF after the done
// sentinel has been emitted or the underlying stream ends. A malformed
// frame is returned as an EventMalformed event, never as an error: model
// backends occasionally emit frames that arrive split or truncated, and a
// single bad frame must not kill the stream.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			if ev.Kind == EventDone {
				d.done = true
			}
			return ev, nil
		}
		if d.done {
			return Event{}, io.EOF
		}

		line, ok := d.nextLine()
		if !ok {
			if d.eof {
				return Event{}, io.EOF
			}
			if err := d.fill(); err != nil {
				// Flush whatever complete lines the final read
				// delivered before reporting the stream end.
				if err == io.EOF {
					d.eof = true
					d.flushTail()
					continue
				}
				return Event{}, err
			}
			continue
		}

		d.decodeLine(line)
	}
}

// nextLine pops one newline-terminated line from the carry buffer.
func (d *Decoder) nextLine() ([]byte, bool) {
	i := bytes.IndexByte(d.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line := d.buf[:i]
	d.buf = d.buf[i+1:]
	return bytes.TrimSuffix(line, []byte("\r")), true
}

func (d *Decoder) fill() error {
	chunk := make([]byte, readChunk)
	n, err := d.r.Read(chunk)
	if n > 0 {
		d.buf = append(d.buf, chunk[:n]...)
		return nil
	}
	if err == nil {
		err = io.EOF
	}
	return err
}

// flushTail processes an unterminated final line. Some backends omit the
// newline after the sentinel frame.
func (d *Decoder) flushTail() {
	if len(d.buf) == 0 {
		return
	}
	line := bytes.TrimSuffix(d.buf, []byte("\r"))
	d.buf = nil
	d.decodeLine(line)
}

// decodeLine parses one frame line and queues the resulting events. A
// single frame may carry deltas for more than one channel.
func (d *Decoder) decodeLine(line []byte) {
	if len(line) == 0 {
		return
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return
	}
	payload := line[len(dataPrefix):]

	if string(payload) == doneSentinel {
		d.pending = append(d.pending, Event{Kind: EventDone})
		return
	}

	var frame llm.StreamPayload
	if err := json.Unmarshal(payload, &frame); err != nil {
		d.pending = append(d.pending, Event{Kind: EventMalformed, Text: string(payload)})
		return
	}

	queued := false
	if frame.Content != "" {
		d.pending = append(d.pending, Event{Kind: EventContent, Text: frame.Content})
		queued = true
	}
	if frame.Reasoning != "" {
		d.pending = append(d.pending, Event{Kind: EventReasoning, Text: frame.Reasoning})
		queued = true
	}
	if frame.Citations != nil {
		d.pending = append(d.pending, Event{Kind: EventCitations, Citations: frame.Citations})
		queued = true
	}
	if !queued {
		// Valid JSON but not a shape we recognize.
		d.pending = append(d.pending, Event{Kind: EventMalformed, Text: string(payload)})
	}
}
