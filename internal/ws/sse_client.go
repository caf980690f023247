package ws

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient streams Server-Sent Events over an HTTP response writer for
// clients that cannot open a websocket.
type SSEClient struct {
	writer    io.Writer
	flusher   http.Flusher
	log       *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{
		writer:  writer,
		flusher: flusher,
		log:     logger,
		send:    make(chan []byte, sendQueue),
		done:    make(chan struct{}),
	}
}

// Send queues a data event.
func (c *SSEClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return io.EOF
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Stream writes queued events and periodic heartbeats until ctx ends or the
// client is closed. It must run on the handler goroutine that owns writer.
func (c *SSEClient) Stream(ctx context.Context, heartbeat time.Duration) error {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case payload := <-c.send:
			if err := c.write(fmt.Sprintf("data: %s\n\n", payload)); err != nil {
				c.log.Warn("sse send failed", "error", err)
				return err
			}
		case <-ticker.C:
			if err := c.write(": ping\n\n"); err != nil {
				c.log.Warn("sse heartbeat failed", "error", err)
				return err
			}
		}
	}
}

func (c *SSEClient) write(frame string) error {
	if _, err := c.writer.Write([]byte(frame)); err != nil {
		c.Close()
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
