package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddharth-777/ECHO/internal/logging"
	"github.com/Siddharth-777/ECHO/internal/relay"
	"github.com/Siddharth-777/ECHO/internal/signaling"
)

type testServer struct {
	t   *testing.T
	url string
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	reg := prometheus.NewRegistry()
	hub := relay.NewHub(relay.NewRegistry(0), relay.NewMetrics(reg), logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewMux(hub, reg))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
	})

	return &testServer{
		t:   t,
		url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		srv: srv,
	}
}

func (s *testServer) dial() *websocket.Conn {
	s.t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(s.t, err)
	s.t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg *signaling.Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func recv(t *testing.T, conn *websocket.Conn) *signaling.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := signaling.Decode(data)
	require.NoError(t, err)
	return msg
}

func TestSignalingOverWebsocket(t *testing.T) {
	s := newTestServer(t)
	a, b := s.dial(), s.dial()

	send(t, a, signaling.Join("demo1", "Alice"))
	joinedA := recv(t, a)
	require.Equal(t, signaling.TypeJoined, joinedA.Type)
	assert.Empty(t, joinedA.Peers)
	idA := joinedA.ClientID
	require.NotEmpty(t, idA)

	send(t, b, signaling.Join("demo1", "Bob"))
	joinedB := recv(t, b)
	assert.Equal(t, []signaling.PeerInfo{{ID: idA, Name: "Alice"}}, joinedB.Peers)
	idB := joinedB.ClientID

	peerJoined := recv(t, a)
	assert.Equal(t, signaling.TypePeerJoined, peerJoined.Type)
	assert.Equal(t, idB, peerJoined.Peer.ID)

	// Garbage does not close the channel.
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{not json")))

	send(t, b, signaling.Offer(idA, json.RawMessage(`{"type":"offer","sdp":"X"}`)))
	offer := recv(t, a)
	assert.Equal(t, signaling.TypeOffer, offer.Type)
	assert.Equal(t, idB, offer.From)
	assert.Equal(t, "Bob", offer.Name)
	assert.JSONEq(t, `{"type":"offer","sdp":"X"}`, string(offer.SDP))

	send(t, a, signaling.Answer(idB, json.RawMessage(`{"type":"answer","sdp":"Y"}`)))
	answer := recv(t, b)
	assert.Equal(t, idA, answer.From)

	send(t, a, signaling.Chat("hi"))
	assert.Equal(t, "hi", recv(t, a).Text)
	assert.Equal(t, "hi", recv(t, b).Text)

	require.NoError(t, a.Close())
	left := recv(t, b)
	assert.Equal(t, signaling.TypePeerLeft, left.Type)
	assert.Equal(t, idA, left.ID)

	// Leave, then join elsewhere: the reply proves the leave was applied.
	send(t, b, signaling.Leave())
	send(t, b, signaling.Join("elsewhere", "Bob"))
	assert.Equal(t, "elsewhere", recv(t, b).RoomID)

	c := s.dial()
	send(t, c, signaling.Join("demo1", "Carol"))
	assert.Empty(t, recv(t, c).Peers)
}

func TestOversizedFrameKeepsConnection(t *testing.T) {
	s := newTestServer(t)
	a, b := s.dial(), s.dial()

	send(t, a, signaling.Join("big", "Alice"))
	idA := recv(t, a).ClientID
	send(t, b, signaling.Join("big", "Bob"))
	recv(t, b)
	recv(t, a)

	huge := `{"type":"chat","text":"` + strings.Repeat("x", 100*1024) + `"}`
	require.NoError(t, b.WriteMessage(websocket.TextMessage, []byte(huge)))

	send(t, b, signaling.Offer(idA, json.RawMessage(`{"type":"offer","sdp":"X"}`)))
	offer := recv(t, a)
	assert.Equal(t, signaling.TypeOffer, offer.Type)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")

	conn := s.dial()
	send(t, conn, signaling.Join("m", "x"))
	recv(t, conn)

	resp, err = http.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "echo_rooms 1")
}
