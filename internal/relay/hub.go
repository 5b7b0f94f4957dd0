package relay

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Siddharth-777/ECHO/internal/signaling"
)

// Envelope is an inbound message tagged with the client that sent it.
type Envelope struct {
	Client  *Client
	Message *signaling.Message
}

// Hub is the central brain of the signaling server.
// It owns the Registry and is the only goroutine that reads or writes it.
type Hub struct {
	registry *Registry
	clients  map[string]*Client
	metrics  *Metrics
	logger   *logrus.Entry

	// Register is a channel for accepted connections.
	Register chan *Client

	// Unregister is a channel for connections that closed.
	Unregister chan *Client

	// Inbound carries every decoded message from every client.
	Inbound chan Envelope

	done chan struct{}
}

// NewHub creates a Hub around registry. metrics may be nil.
func NewHub(registry *Registry, metrics *Metrics, logger *logrus.Entry) *Hub {
	return &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		metrics:    metrics,
		logger:     logger,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan Envelope, 64),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main processing loop. Messages are handled one at a
// time, so every join, leave, route and chat is atomic with respect to the
// membership table.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				h.drop(c)
			}
			return

		case client := <-h.Register:
			h.register(client)

		case client := <-h.Unregister:
			h.drop(client)

		case env := <-h.Inbound:
			h.handle(env)
		}
	}
}

// Logger returns the hub's log entry.
func (h *Hub) Logger() *logrus.Entry {
	return h.logger
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Accept hands a new connection to the hub. It returns false once the hub
// has stopped.
func (h *Hub) Accept(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) deliverInbound(env Envelope) bool {
	select {
	case h.Inbound <- env:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) register(c *Client) {
	h.clients[c.ID] = c
	h.logger.WithField("client", c.ID).Debug("Client registered")
	h.metrics.observe(h.registry, len(h.clients))
}

// drop handles a closed channel: leave the room, then stop the write pump.
func (h *Hub) drop(c *Client) {
	if c.closed {
		return
	}
	h.leave(c)
	c.closed = true
	delete(h.clients, c.ID)
	close(c.Send)

	h.logger.WithField("client", c.ID).Debug("Client unregistered")
	h.metrics.observe(h.registry, len(h.clients))
}

func (h *Hub) handle(env Envelope) {
	c, msg := env.Client, env.Message
	if c.closed {
		return
	}

	h.logger.WithFields(logrus.Fields{
		"client": c.ID,
		"type":   msg.Type,
	}).Debug("Message received")

	switch msg.Type {

	case signaling.TypeJoin:
		h.join(c, msg.RoomID, msg.Name)

	case signaling.TypeLeave:
		h.leave(c)

	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeCandidate:
		h.route(c, msg)

	case signaling.TypeChat:
		h.chat(c, msg.Text)

	default:
		h.logger.WithField("type", msg.Type).Debug("Unknown message type")
		h.metrics.dropped(dropUnknownType)
	}
}

// join registers c in roomID, answers with the current peer list and
// announces c to everyone else.
func (h *Hub) join(c *Client, roomID, name string) {
	if roomID == "" {
		h.metrics.dropped(dropMalformed)
		return
	}

	// A second join moves the client.
	if c.RoomID != "" {
		h.leave(c)
	}

	peers, err := h.registry.Join(c, roomID, name)
	if errors.Is(err, ErrRoomFull) {
		h.logger.WithFields(logrus.Fields{"client": c.ID, "room": roomID}).Info("Room full")
		h.send(c, &signaling.Message{
			Type:  signaling.TypeRoomFull,
			Limit: h.registry.MaxRoomSize(),
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"client": c.ID,
		"room":   roomID,
		"name":   c.Name,
		"peers":  len(peers),
	}).Info("Client joined")

	h.send(c, &signaling.Message{
		Type:     signaling.TypeJoined,
		ClientID: c.ID,
		RoomID:   roomID,
		Name:     c.Name,
		Peers:    peers,
	})

	info := c.Info()
	h.broadcast(roomID, &signaling.Message{Type: signaling.TypePeerJoined, Peer: &info}, c.ID)
	h.metrics.observe(h.registry, len(h.clients))
}

// leave removes c from its room, if any, and tells the remaining members.
func (h *Hub) leave(c *Client) {
	room, err := h.registry.Leave(c)
	if err != nil {
		return
	}

	if room.Len() == 0 {
		h.logger.WithField("room", room.ID).Info("Room deleted")
	} else {
		h.logger.WithFields(logrus.Fields{"client": c.ID, "room": room.ID}).Info("Client left")
		h.broadcast(room.ID, &signaling.Message{Type: signaling.TypePeerLeft, ID: c.ID}, "")
	}
	h.metrics.observe(h.registry, len(h.clients))
}

// route forwards an addressed message to a member of the sender's room.
// Unknown or closed recipients are dropped without telling the sender.
func (h *Hub) route(sender *Client, msg *signaling.Message) {
	if sender.RoomID == "" {
		h.metrics.dropped(dropNotInRoom)
		return
	}

	target, ok := h.registry.Recipient(sender, msg.To)
	if !ok || target.closed {
		h.logger.WithFields(logrus.Fields{
			"client": sender.ID,
			"to":     msg.To,
			"type":   msg.Type,
		}).Debug("Dropping message for unknown target")
		h.metrics.dropped(dropUnknownTarget)
		return
	}

	out := *msg
	out.To = ""
	out.From = sender.ID
	out.Name = sender.Name
	h.send(target, &out)
}

// chat broadcasts text to the whole room, sender included.
func (h *Hub) chat(sender *Client, text string) {
	if sender.RoomID == "" {
		h.metrics.dropped(dropNotInRoom)
		return
	}

	h.broadcast(sender.RoomID, &signaling.Message{
		Type: signaling.TypeChat,
		From: sender.ID,
		Name: sender.Name,
		Text: text,
	}, "")
}

func (h *Hub) broadcast(roomID string, msg *signaling.Message, excludeID string) {
	room, ok := h.registry.Room(roomID)
	if !ok {
		return
	}
	for _, m := range room.Members() {
		if m.ID == excludeID {
			continue
		}
		h.send(m, msg)
	}
}

// send never blocks the hub. A client that cannot keep up is disconnected
// so it never misses a membership change while staying in the room.
func (h *Hub) send(c *Client, msg *signaling.Message) {
	if c.closed {
		h.metrics.dropped(dropUnknownTarget)
		return
	}
	select {
	case c.Send <- msg:
		h.metrics.delivered(msg.Type)
	default:
		h.logger.WithFields(logrus.Fields{"client": c.ID, "type": msg.Type}).Warn("Send buffer full, disconnecting client")
		h.metrics.dropped(dropBackpressure)
		h.drop(c)
	}
}
