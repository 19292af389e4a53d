package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrSlowConsumer = errors.New("client send buffer full")
)

// RuntimeClient is one live session. Writes go through a buffered channel
// drained by a single writer goroutine.
type RuntimeClient struct {
	ctx      context.Context
	cancel   context.CancelFunc
	ws       *WebSocket
	id       string
	userID   string
	deviceID string
	out      chan []byte
	once     sync.Once
}

func NewClient(
	parent context.Context,
	ws *WebSocket,
	userID, deviceID string,
) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	c := &RuntimeClient{
		ctx:      ctx,
		cancel:   cancel,
		ws:       ws,
		id:       uuid.NewString(),
		userID:   userID,
		deviceID: deviceID,
		out:      make(chan []byte, 256),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) ID() string       { return c.id }
func (c *RuntimeClient) UserID() string   { return c.userID }
func (c *RuntimeClient) DeviceID() string { return c.deviceID }

// Done is closed once the session is severed.
func (c *RuntimeClient) Done() <-chan struct{} { return c.ctx.Done() }

// Send queues data for the writer without blocking. A session whose buffer
// is full is severed and the frame is dropped.
func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	default:
		c.Close()
		return ErrSlowConsumer
	}
}

// Close severs the session. out is left open so a concurrent Send never
// writes to a closed channel; the writer exits on ctx.
func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *RuntimeClient) writeLoop() {
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				return
			}
		}
	}
}
