// Package transport wraps a websocket into a Connection: a live,
// bidirectional, frame-oriented channel with a thread-safe send
// capability. One read pump and one write pump per connection, so a
// slow peer never blocks frame handling.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	errs "dm-chat/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// FrameHandler is invoked for every inbound frame, sequentially from
// the connection's read pump.
type FrameHandler func(ctx context.Context, frame []byte)

// CloseHandler fires exactly once, when the connection is torn down.
type CloseHandler func()

type Connection struct {
	id   uuid.UUID
	sock *websocket.Conn
	send chan []byte

	onFrame FrameHandler
	onClose CloseHandler

	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	writeTimeout time.Duration
	log          *slog.Logger
}

func NewConnection(parent context.Context, sock *websocket.Conn, bufferSize int,
	writeTimeout time.Duration, log *slog.Logger) *Connection {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		id:           id,
		sock:         sock,
		send:         make(chan []byte, bufferSize),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		log:          log.With(slog.String("conn_id", id.String())),
	}
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Run starts the pumps. It returns immediately; the connection lives
// until the peer goes away or Close is called.
func (c *Connection) Run(onFrame FrameHandler, onClose CloseHandler) {
	c.onFrame = onFrame
	c.onClose = onClose
	go c.readPump()
	go c.writePump()
	c.log.Debug("connection established")
}

// Push queues a frame for delivery. It reports the peer being gone
// instead of blocking: a closed connection or a full buffer (a peer
// that stopped reading) both yield ErrConnectionClosed.
func (c *Connection) Push(frame []byte) error {
	select {
	case <-c.done:
		return errs.ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errs.ErrConnectionClosed
	default:
		return errs.ErrConnectionClosed
	}
}

// Close tears the connection down: cancels the connection context,
// stops the pumps, and fires the close handler. Safe to call more
// than once; only the first call has any effect.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
		c.log.Debug("connection closed")
	})
	return nil
}

// Done is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) readPump() {
	defer func() {
		_ = c.Close()
	}()
	for {
		_, frame, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		c.onFrame(c.ctx, frame)
	}
}

func (c *Connection) writePump() {
	defer func() {
		_ = c.sock.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			// Flush what was queued before the close, the auth_error
			// that precedes an auth-failure shutdown in particular.
			for {
				select {
				case frame := <-c.send:
					if err := c.write(frame); err != nil {
						return
					}
				default:
					_ = c.sock.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

func (c *Connection) write(frame []byte) error {
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.sock.WriteMessage(websocket.TextMessage, frame)
}
