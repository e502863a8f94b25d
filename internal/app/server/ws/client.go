package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

var ErrClientClosed = errors.New("client closed")

// RuntimeClient is one live connection's outbound half: a buffered channel
// drained by a single write goroutine, so registry fanout never blocks on a
// slow peer longer than the buffer allows.
type RuntimeClient struct {
	ctx      context.Context
	cancel   context.CancelFunc
	ws       *WebSocket
	identity domain.Identity
	out      chan []byte
	once     sync.Once
}

func NewClient(parent context.Context, ws *WebSocket, identity domain.Identity) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	c := &RuntimeClient{
		ctx:      ctx,
		cancel:   cancel,
		ws:       ws,
		identity: identity,
		out:      make(chan []byte, outBufferDepth),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) Identity() domain.Identity { return c.identity }

// Send queues data for the write loop. It fails fast once the client is
// closed or the caller's ctx expires; it never blocks past a full buffer.
func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *RuntimeClient) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ping.C:
			if err := c.ws.Ping(); err != nil {
				return
			}
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				return
			}
		}
	}
}
