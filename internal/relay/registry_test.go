package relay

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddharth-777/ECHO/internal/signaling"
)

func newTestClient(id string) *Client {
	return &Client{ID: id, Send: make(chan *signaling.Message, SendBuffer)}
}

func memberIDs(r *Registry, roomID string) []string {
	room, ok := r.Room(roomID)
	if !ok {
		return nil
	}
	var ids []string
	for _, m := range room.Members() {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestRegistryJoinReturnsOtherMembers(t *testing.T) {
	r := NewRegistry(0)
	a, b := newTestClient("a"), newTestClient("b")

	peers, err := r.Join(a, "demo1", "Alice")
	require.NoError(t, err)
	assert.Empty(t, peers)

	peers, err = r.Join(b, "demo1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, []signaling.PeerInfo{{ID: "a", Name: "Alice"}}, peers)
	assert.Equal(t, "demo1", b.RoomID)
	assert.Equal(t, 1, r.Rooms())
	assert.Equal(t, 2, r.Members())
}

func TestRegistryDefaultName(t *testing.T) {
	r := NewRegistry(0)
	c := newTestClient("a")
	_, err := r.Join(c, "room", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, c.Name)
}

func TestRegistryDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry(0)
	a, b := newTestClient("a"), newTestClient("b")
	_, _ = r.Join(a, "demo1", "Alice")
	_, _ = r.Join(b, "demo1", "Bob")

	_, err := r.Leave(a)
	require.NoError(t, err)
	_, err = r.Leave(b)
	require.NoError(t, err)

	_, ok := r.Room("demo1")
	assert.False(t, ok)

	c := newTestClient("c")
	peers, err := r.Join(c, "demo1", "Carol")
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestRegistryLeaveWithoutRoom(t *testing.T) {
	r := NewRegistry(0)
	_, err := r.Leave(newTestClient("a"))
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestRegistryRoomFull(t *testing.T) {
	r := NewRegistry(2)
	_, err := r.Join(newTestClient("a"), "x", "")
	require.NoError(t, err)
	_, err = r.Join(newTestClient("b"), "x", "")
	require.NoError(t, err)

	c := newTestClient("c")
	_, err = r.Join(c, "x", "")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Empty(t, c.RoomID)
	assert.Equal(t, []string{"a", "b"}, memberIDs(r, "x"))
	assert.Equal(t, 2, r.MaxRoomSize())
}

func TestRegistryRecipientIsScopedToRoom(t *testing.T) {
	r := NewRegistry(0)
	a, b, other := newTestClient("a"), newTestClient("b"), newTestClient("c")
	_, _ = r.Join(a, "one", "")
	_, _ = r.Join(b, "one", "")
	_, _ = r.Join(other, "two", "")

	got, ok := r.Recipient(a, "b")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Recipient(a, "c")
	assert.False(t, ok)

	_, ok = r.Recipient(newTestClient("z"), "a")
	assert.False(t, ok)
}

// Random join/leave sequences: the member list always equals the set of
// clients that joined and have not left.
func TestRegistryMembershipMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		r := NewRegistry(0)
		clients := make([]*Client, 8)
		for i := range clients {
			clients[i] = newTestClient(fmt.Sprintf("c%d", i))
		}
		model := map[string]bool{}

		for step := 0; step < 100; step++ {
			c := clients[rng.Intn(len(clients))]
			if model[c.ID] {
				_, err := r.Leave(c)
				require.NoError(t, err)
				delete(model, c.ID)
			} else {
				_, err := r.Join(c, "room", c.ID)
				require.NoError(t, err)
				model[c.ID] = true
			}

			var want []string
			for id := range model {
				want = append(want, id)
			}
			sort.Strings(want)
			assert.Equal(t, want, memberIDs(r, "room"))

			_, exists := r.Room("room")
			assert.Equal(t, len(model) > 0, exists)
		}
	}
}
