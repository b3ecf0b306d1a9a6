package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"spanlight/internal/domain"
)

const readChunkSize = 4096

// Decoder turns an arbitrarily fragmented byte stream of frames into events.
// A single carry-over buffer holds the trailing partial line between Feed
// calls, so the events produced do not depend on where fragments split.
//
// Lines without the "data: " prefix and payloads that are not a recognised
// JSON object are dropped. The first Error or Done ends decoding; later input
// is ignored.
type Decoder struct {
	carry    []byte
	finished bool
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a fragment and returns the events completed by it.
func (d *Decoder) Feed(fragment []byte) []domain.StreamEvent {
	if d.finished {
		return nil
	}
	d.carry = append(d.carry, fragment...)

	var events []domain.StreamEvent
	rest := d.carry
	for !d.finished {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		line := rest[:i]
		rest = rest[i+1:]
		if ev, ok := parseLine(line); ok {
			events = append(events, ev)
			d.finished = ev.Terminal()
		}
	}
	if d.finished {
		d.carry = nil
		return events
	}
	d.carry = append(d.carry[:0], rest...)
	return events
}

// Flush treats any buffered partial line as complete. Call it once at end of input.
func (d *Decoder) Flush() []domain.StreamEvent {
	if d.finished || len(d.carry) == 0 {
		return nil
	}
	line := d.carry
	d.carry = nil
	if ev, ok := parseLine(line); ok {
		d.finished = ev.Terminal()
		return []domain.StreamEvent{ev}
	}
	return nil
}

// Finished reports whether a terminal event has been decoded.
func (d *Decoder) Finished() bool { return d.finished }

// Buffered returns the number of bytes held in the carry-over buffer.
func (d *Decoder) Buffered() int { return len(d.carry) }

func parseLine(line []byte) (domain.StreamEvent, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return domain.StreamEvent{}, false
	}
	data := line[len(dataPrefix):]
	if bytes.Equal(bytes.TrimSpace(data), []byte(doneSentinel)) {
		return domain.DoneEvent(), true
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.StreamEvent{}, false
	}
	switch {
	case p.Token != nil:
		return domain.TokenEvent(*p.Token), true
	case p.Error != nil:
		return domain.ErrorEvent(*p.Error), true
	}
	return domain.StreamEvent{}, false
}

// Decode reads frames from body and delivers decoded events on the returned
// channel. The channel closes after a terminal event, at end of input, or
// when ctx is cancelled; body is closed in every case. A read failure that is
// not caused by ctx is delivered as an Error event. End of input without a
// terminal event simply closes the channel.
func Decode(ctx context.Context, body io.ReadCloser) <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(events []domain.StreamEvent) bool {
			for _, ev := range events {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		dec := NewDecoder()
		buf := make([]byte, readChunkSize)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				if !send(dec.Feed(buf[:n])) || dec.Finished() {
					return
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				send(dec.Flush())
				return
			}
			if ctx.Err() != nil {
				return
			}
			send([]domain.StreamEvent{domain.ErrorEvent(fmt.Sprintf("stream read failed: %v", err))})
			return
		}
	}()
	return ch
}
