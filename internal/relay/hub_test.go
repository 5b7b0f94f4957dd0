package relay

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddharth-777/ECHO/internal/logging"
	"github.com/Siddharth-777/ECHO/internal/signaling"
)

type hubTest struct {
	t   *testing.T
	hub *Hub
}

func newHubTest(t *testing.T, maxRoomSize int) *hubTest {
	hub := NewHub(NewRegistry(maxRoomSize), NewMetrics(prometheus.NewRegistry()), logging.NewTestLogger(t))
	return &hubTest{t: t, hub: hub}
}

func (h *hubTest) connect(id string) *Client {
	c := NewClient(id, h.hub, nil)
	h.hub.register(c)
	return c
}

func (h *hubTest) send(c *Client, msg *signaling.Message) {
	h.hub.handle(Envelope{Client: c, Message: msg})
}

// next pops the next queued message for c.
func (h *hubTest) next(c *Client) *signaling.Message {
	h.t.Helper()
	select {
	case msg, ok := <-c.Send:
		require.True(h.t, ok, "send channel closed")
		return msg
	default:
		h.t.Fatalf("no message queued for %s", c.ID)
		return nil
	}
}

func (h *hubTest) empty(c *Client) {
	h.t.Helper()
	select {
	case msg, ok := <-c.Send:
		if ok {
			h.t.Fatalf("unexpected message for %s: %+v", c.ID, msg)
		}
	default:
	}
}

func TestHubScenario(t *testing.T) {
	h := newHubTest(t, 0)
	a, b := h.connect("A"), h.connect("B")

	// 1. A joins an empty room.
	h.send(a, signaling.Join("demo1", "Alice"))
	joined := h.next(a)
	assert.Equal(t, signaling.TypeJoined, joined.Type)
	assert.Equal(t, "A", joined.ClientID)
	assert.Equal(t, "demo1", joined.RoomID)
	assert.Equal(t, "Alice", joined.Name)
	assert.Empty(t, joined.Peers)

	// 2. B joins: B sees A, A is told about B.
	h.send(b, signaling.Join("demo1", "Bob"))
	joined = h.next(b)
	assert.Equal(t, []signaling.PeerInfo{{ID: "A", Name: "Alice"}}, joined.Peers)
	pj := h.next(a)
	assert.Equal(t, signaling.TypePeerJoined, pj.Type)
	assert.Equal(t, &signaling.PeerInfo{ID: "B", Name: "Bob"}, pj.Peer)
	h.empty(b)

	// 3. Offer and answer are forwarded with sender identity attached.
	h.send(b, signaling.Offer("A", json.RawMessage(`"X"`)))
	offer := h.next(a)
	assert.Equal(t, signaling.TypeOffer, offer.Type)
	assert.Equal(t, "B", offer.From)
	assert.Equal(t, "Bob", offer.Name)
	assert.Empty(t, offer.To)
	assert.JSONEq(t, `"X"`, string(offer.SDP))

	h.send(a, signaling.Answer("B", json.RawMessage(`"Y"`)))
	answer := h.next(b)
	assert.Equal(t, "A", answer.From)
	assert.JSONEq(t, `"Y"`, string(answer.SDP))

	// 4. A's channel closes.
	h.hub.drop(a)
	left := h.next(b)
	assert.Equal(t, signaling.TypePeerLeft, left.Type)
	assert.Equal(t, "A", left.ID)
	room, ok := h.hub.registry.Room("demo1")
	require.True(t, ok)
	_, stillThere := room.Member("A")
	assert.False(t, stillThere)

	// 5. B leaves; the room is gone and a fresh join sees nobody.
	h.send(b, signaling.Leave())
	_, ok = h.hub.registry.Room("demo1")
	assert.False(t, ok)

	c := h.connect("C")
	h.send(c, signaling.Join("demo1", "Carol"))
	assert.Empty(t, h.next(c).Peers)
}

func TestHubRouteNeverCrossesRooms(t *testing.T) {
	h := newHubTest(t, 0)
	a, b := h.connect("A"), h.connect("B")
	h.send(a, signaling.Join("one", ""))
	h.send(b, signaling.Join("two", ""))
	h.next(a)
	h.next(b)

	h.send(a, signaling.Candidate("B", json.RawMessage(`{}`)))
	h.empty(b)
	h.empty(a)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.hub.metrics.drops.WithLabelValues(dropUnknownTarget)))
}

func TestHubRouteRequiresMembership(t *testing.T) {
	h := newHubTest(t, 0)
	a, b := h.connect("A"), h.connect("B")
	h.send(b, signaling.Join("one", ""))
	h.next(b)

	h.send(a, signaling.Offer("B", json.RawMessage(`{}`)))
	h.empty(b)
}

func TestHubChatIncludesSender(t *testing.T) {
	h := newHubTest(t, 0)
	a, b, other := h.connect("A"), h.connect("B"), h.connect("C")
	h.send(a, signaling.Join("r", "Alice"))
	h.send(b, signaling.Join("r", "Bob"))
	h.send(other, signaling.Join("elsewhere", "Carol"))
	h.next(a)
	h.next(a)
	h.next(b)
	h.next(other)

	h.send(a, signaling.Chat("hello"))
	for _, c := range []*Client{a, b} {
		msg := h.next(c)
		assert.Equal(t, signaling.TypeChat, msg.Type)
		assert.Equal(t, "A", msg.From)
		assert.Equal(t, "Alice", msg.Name)
		assert.Equal(t, "hello", msg.Text)
	}
	h.empty(other)
}

func TestHubRoomFull(t *testing.T) {
	h := newHubTest(t, 1)
	a, b := h.connect("A"), h.connect("B")
	h.send(a, signaling.Join("r", ""))
	h.next(a)

	h.send(b, signaling.Join("r", ""))
	full := h.next(b)
	assert.Equal(t, signaling.TypeRoomFull, full.Type)
	assert.Equal(t, 1, full.Limit)
	assert.Empty(t, b.RoomID)
	h.empty(a)
}

func TestHubRejoinMovesClient(t *testing.T) {
	h := newHubTest(t, 0)
	a, b := h.connect("A"), h.connect("B")
	h.send(a, signaling.Join("one", ""))
	h.send(b, signaling.Join("one", ""))
	h.next(a)
	h.next(a)
	h.next(b)

	h.send(b, signaling.Join("two", ""))
	assert.Equal(t, signaling.TypePeerLeft, h.next(a).Type)
	joined := h.next(b)
	assert.Equal(t, "two", joined.RoomID)
	assert.Empty(t, joined.Peers)
}

func TestHubIgnoresJoinWithoutRoom(t *testing.T) {
	h := newHubTest(t, 0)
	a := h.connect("A")
	h.send(a, &signaling.Message{Type: signaling.TypeJoin})
	h.empty(a)
	h.send(a, &signaling.Message{Type: "bogus"})
	h.empty(a)
}

func TestHubDropClosesSendOnce(t *testing.T) {
	h := newHubTest(t, 0)
	a := h.connect("A")
	h.hub.drop(a)
	h.hub.drop(a)

	_, ok := <-a.Send
	assert.False(t, ok)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.hub.metrics.connections))
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	h := newHubTest(t, 0)
	a, b := h.connect("A"), h.connect("B")
	h.send(a, signaling.Join("r", ""))
	h.send(b, signaling.Join("r", ""))
	assert.Equal(t, signaling.TypeJoined, h.next(a).Type)
	assert.Equal(t, signaling.TypePeerJoined, h.next(a).Type)

	// b never drains its queue: joined plus the offers fill it.
	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	for i := 0; i < SendBuffer+1; i++ {
		h.send(a, signaling.Offer("B", sdp))
	}

	assert.True(t, b.closed)
	assert.Len(t, b.Send, SendBuffer)
	room, ok := h.hub.registry.Room("r")
	require.True(t, ok)
	_, member := room.Member("B")
	assert.False(t, member)

	left := h.next(a)
	assert.Equal(t, signaling.TypePeerLeft, left.Type)
	assert.Equal(t, "B", left.ID)
	h.empty(a)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.hub.metrics.drops.WithLabelValues(dropBackpressure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.hub.metrics.drops.WithLabelValues(dropUnknownTarget)))
}
