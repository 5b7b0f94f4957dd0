package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Siddharth-777/ECHO/internal/dns"
	"github.com/Siddharth-777/ECHO/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	bufferSize     = 64
)

// ErrClosed is returned when sending on a closed channel.
var ErrClosed = errors.New("channel closed")

// State is the readiness of the channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn     *websocket.Conn
	incoming chan *signaling.Message
	outgoing chan *signaling.Message
	done     chan struct{}
	once     sync.Once
	state    atomic.Int32
	logger   *logrus.Entry
}

// Dial establishes the WebSocket connection to serverURL and starts the
// read and write pumps.
func Dial(ctx context.Context, serverURL string, logger *logrus.Entry) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	// Resolve through the fallback resolver so broken system DNS does not
	// keep us out of the room.
	resolver := &dns.Resolver{}
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = resolver.DialContext

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return newClient(conn, logger), nil
}

func newClient(conn *websocket.Conn, logger *logrus.Entry) *Client {
	c := &Client{
		conn:     conn,
		incoming: make(chan *signaling.Message, bufferSize),
		outgoing: make(chan *signaling.Message, bufferSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
	c.state.Store(int32(StateOpen))

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Warn("Signaling connection lost")
			}
			return
		}

		msg, err := signaling.Decode(data)
		if err != nil {
			c.logger.WithError(err).Debug("Dropping frame")
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

// Send queues msg for the server. It is safe for concurrent use.
func (c *Client) Send(msg *signaling.Message) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel of decoded server messages. It is closed
// when the connection ends.
func (c *Client) Incoming() <-chan *signaling.Message {
	return c.incoming
}

// State returns the current readiness state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}
