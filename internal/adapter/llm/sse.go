package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"spanlight/internal/domain"
)

// maxSSELine bounds a single upstream SSE line.
const maxSSELine = 1 << 20

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using the provider-specific parseLine function.
//
// The channel is closed after "[DONE]", after a delta with Done or Err, at EOF,
// or when ctx is cancelled. A read failure other than cancellation is sent as
// a final delta with Err set. Lines parseLine rejects are skipped.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := bytes.TrimSuffix(scanner.Bytes(), []byte("\r"))
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimPrefix(data, []byte(" "))

			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}
			if !send(ctx, ch, *delta) {
				return
			}
			if delta.Done || delta.Err != nil {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(ctx, ch, domain.StreamDelta{Err: fmt.Errorf("%w: stream read: %v", domain.ErrUpstreamFailure, err)})
		}
	}()
	return ch
}
