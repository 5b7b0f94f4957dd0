package relay

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Siddharth-777/ECHO/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size accepted from peer. Larger frames are dropped
	// like malformed ones.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP with many candidates

	// Frames above this close the connection.
	maxFrameSize = 1024 * 1024

	// SendBuffer is the number of outbound messages queued per client
	// before further messages to it are dropped.
	SendBuffer = 256
)

// Client is the relay's view of one websocket connection.
type Client struct {
	// ID is assigned when the connection is accepted and never changes.
	ID string

	// Name is the display name given at join time.
	Name string

	// RoomID is the room the client is in, empty until joined.
	RoomID string

	// Hub is the hub that manages this client.
	Hub *Hub

	// Conn is the websocket connection. It is nil for in-process clients.
	Conn *websocket.Conn

	// Send is a buffered channel of outbound messages, drained by WritePump.
	Send chan *signaling.Message

	closed bool
}

// NewClient creates a client with an empty room and a send buffer.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Hub:  hub,
		Conn: conn,
		Send: make(chan *signaling.Message, SendBuffer),
	}
}

// Info returns the public identity of the client.
func (c *Client) Info() signaling.PeerInfo {
	return signaling.PeerInfo{ID: c.ID, Name: c.Name}
}

func (c *Client) logger() *logrus.Entry {
	return c.Hub.logger.WithField("client", c.ID)
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger().WithError(err).Warn("Read failed")
			}
			return
		}

		if len(data) > maxMessageSize {
			c.logger().WithField("size", len(data)).Debug("Dropping oversized frame")
			c.Hub.metrics.dropped(dropMalformed)
			continue
		}

		msg, err := signaling.Decode(data)
		if err != nil {
			// Malformed input only affects this frame.
			c.logger().WithError(err).Debug("Dropping frame")
			c.Hub.metrics.dropped(dropMalformed)
			continue
		}

		if !c.Hub.deliverInbound(Envelope{Client: c, Message: msg}) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteJSON(message); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger().WithError(err).Debug("Write failed")
				}
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
