package relay

import (
	"errors"

	"github.com/Siddharth-777/ECHO/internal/signaling"
)

// DefaultName is given to clients that join without a display name.
const DefaultName = "Guest"

var (
	// ErrRoomFull is returned by Join when the room already holds the
	// configured maximum number of members.
	ErrRoomFull = errors.New("room is full")

	// ErrNotInRoom is returned for operations that need room membership.
	ErrNotInRoom = errors.New("client is not in a room")
)

// Room is a named set of member clients.
type Room struct {
	ID string

	members map[string]*Client
	order   []string
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]*Client)}
}

// Len returns the number of members.
func (r *Room) Len() int {
	return len(r.order)
}

// Member returns the member with the given id.
func (r *Room) Member(id string) (*Client, bool) {
	c, ok := r.members[id]
	return c, ok
}

// Members returns the members in join order.
func (r *Room) Members() []*Client {
	out := make([]*Client, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

func (r *Room) add(c *Client) {
	if _, ok := r.members[c.ID]; ok {
		return
	}
	r.members[c.ID] = c
	r.order = append(r.order, c.ID)
}

func (r *Room) remove(id string) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Registry is the in-memory table of rooms. It has no locking: it must only
// be used from the Hub's event loop.
type Registry struct {
	rooms       map[string]*Room
	maxRoomSize int
}

// NewRegistry creates an empty registry. maxRoomSize <= 0 disables the cap.
func NewRegistry(maxRoomSize int) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		maxRoomSize: maxRoomSize,
	}
}

// MaxRoomSize returns the configured cap, 0 when unlimited.
func (r *Registry) MaxRoomSize() int {
	if r.maxRoomSize < 0 {
		return 0
	}
	return r.maxRoomSize
}

// Join adds c to roomID, creating the room if needed, and returns the other
// members as they were before c joined. The client must not be in a room.
func (r *Registry) Join(c *Client, roomID, name string) ([]signaling.PeerInfo, error) {
	room, ok := r.rooms[roomID]
	if ok && r.maxRoomSize > 0 && room.Len() >= r.maxRoomSize {
		return nil, ErrRoomFull
	}
	if !ok {
		room = newRoom(roomID)
		r.rooms[roomID] = room
	}

	if name == "" {
		name = DefaultName
	}
	c.Name = name
	c.RoomID = roomID

	peers := make([]signaling.PeerInfo, 0, room.Len())
	for _, m := range room.Members() {
		peers = append(peers, m.Info())
	}
	room.add(c)
	return peers, nil
}

// Leave removes c from its room and deletes the room once empty. It returns
// the room c was in, or ErrNotInRoom.
func (r *Registry) Leave(c *Client) (*Room, error) {
	if c.RoomID == "" {
		return nil, ErrNotInRoom
	}
	room, ok := r.rooms[c.RoomID]
	c.RoomID = ""
	if !ok || !room.remove(c.ID) {
		return nil, ErrNotInRoom
	}
	if room.Len() == 0 {
		delete(r.rooms, room.ID)
	}
	return room, nil
}

// Room returns the room with the given id.
func (r *Registry) Room(id string) (*Room, bool) {
	room, ok := r.rooms[id]
	return room, ok
}

// Recipient looks up id inside sender's room only.
func (r *Registry) Recipient(sender *Client, id string) (*Client, bool) {
	if sender.RoomID == "" {
		return nil, false
	}
	room, ok := r.rooms[sender.RoomID]
	if !ok {
		return nil, false
	}
	return room.Member(id)
}

// Rooms returns the number of live rooms.
func (r *Registry) Rooms() int {
	return len(r.rooms)
}

// Members returns the number of clients across all rooms.
func (r *Registry) Members() int {
	n := 0
	for _, room := range r.rooms {
		n += room.Len()
	}
	return n
}
