// Package sse implements the relay's server-sent event frame protocol: an
// encoder for the three frame payloads and a chunk-boundary independent
// decoder for the client side.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"spanlight/internal/domain"
)

const (
	dataPrefix   = "data: "
	frameEnd     = "\n\n"
	doneSentinel = "[DONE]"
)

// payload is the JSON body of a data frame. Exactly one field is set on the
// wire; pointers distinguish an absent field from an empty one when decoding.
type payload struct {
	Token *string `json:"token,omitempty"`
	Error *string `json:"error,omitempty"`
}

// EncodeToken returns the frame carrying one token fragment.
func EncodeToken(text string) []byte {
	return encode(payload{Token: &text})
}

// EncodeError returns the terminal error frame.
func EncodeError(msg string) []byte {
	return encode(payload{Error: &msg})
}

// EncodeDone returns the terminal completion frame.
func EncodeDone() []byte {
	return []byte(dataPrefix + doneSentinel + frameEnd)
}

// Encode returns the frame for a decoded event.
func Encode(ev domain.StreamEvent) []byte {
	switch ev.Kind {
	case domain.EventToken:
		return EncodeToken(ev.Token)
	case domain.EventError:
		return EncodeError(ev.Err)
	default:
		return EncodeDone()
	}
}

func encode(p payload) []byte {
	var buf bytes.Buffer
	buf.WriteString(dataPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// A struct of two string pointers always marshals.
	_ = enc.Encode(p)
	// json.Encoder appends a newline; the frame needs exactly two.
	buf.Truncate(buf.Len() - 1)
	buf.WriteString(frameEnd)
	return buf.Bytes()
}

// SetHeaders applies the response headers of an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Writer writes frames to a response, flushing after each one. It enforces
// that at most one terminal frame is written and nothing follows it.
type Writer struct {
	mu         sync.Mutex
	w          io.Writer
	flusher    http.Flusher
	terminated bool
	frames     int
}

// NewWriter wraps w. If w implements http.Flusher every frame is flushed.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Token writes a token frame.
func (w *Writer) Token(text string) error {
	return w.write(EncodeToken(text), false)
}

// Error writes the terminal error frame.
func (w *Writer) Error(msg string) error {
	return w.write(EncodeError(msg), true)
}

// Done writes the terminal completion frame.
func (w *Writer) Done() error {
	return w.write(EncodeDone(), true)
}

// Terminated reports whether a terminal frame has been written.
func (w *Writer) Terminated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminated
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *Writer) write(frame []byte, terminal bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return domain.ErrStreamClosed
	}
	if terminal {
		w.terminated = true
	}
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.frames++
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
