package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddharth-777/ECHO/internal/logging"
	"github.com/Siddharth-777/ECHO/internal/signaling"
)

var upgrader = websocket.Upgrader{}

// echoServer writes back every frame it receives, preceded by one garbage
// frame so the client's decoder has something to skip.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, c *Client) *signaling.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Incoming():
		require.True(t, ok, "incoming closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoServer(t)

	c, err := Dial(context.Background(), wsURL(srv), logging.Discard())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, StateOpen, c.State())

	require.NoError(t, c.Send(signaling.Join("room-1", "Alice")))
	msg := next(t, c)
	assert.Equal(t, signaling.TypeJoin, msg.Type)
	assert.Equal(t, "room-1", msg.RoomID)
	assert.Equal(t, "Alice", msg.Name)

	require.NoError(t, c.Send(signaling.Chat("hi")))
	msg = next(t, c)
	assert.Equal(t, signaling.TypeChat, msg.Type)
	assert.Equal(t, "hi", msg.Text)
}

func TestClientSendAfterClose(t *testing.T) {
	srv := echoServer(t)

	c, err := Dial(context.Background(), wsURL(srv), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Send(signaling.Leave()), ErrClosed)
}

func TestClientIncomingClosesWithServer(t *testing.T) {
	hangup := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-hangup
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	c, err := Dial(context.Background(), wsURL(srv), logging.Discard())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, StateOpen, c.State())

	close(hangup)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Incoming():
			if !ok {
				assert.Equal(t, StateClosed, c.State())
				return
			}
		case <-deadline:
			t.Fatal("incoming was not closed")
		}
	}
}

func TestDialBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", logging.Discard())
	assert.Error(t, err)
}
