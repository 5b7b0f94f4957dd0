package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinedAlwaysCarriesPeers(t *testing.T) {
	data, err := json.Marshal(&Message{Type: TypeJoined, ClientID: "a", RoomID: "demo1", Name: "Alice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"joined","clientId":"a","roomId":"demo1","name":"Alice","peers":[]}`, string(data))

	data, err = json.Marshal(Message{Type: TypeJoined, Peers: []PeerInfo{{ID: "a", Name: "Alice"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"joined","peers":[{"id":"a","name":"Alice"}]}`, string(data))
}

func TestOtherTypesOmitEmptyFields(t *testing.T) {
	data, err := json.Marshal(&Message{Type: TypePeerLeft, ID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"peer-left","id":"a"}`, string(data))
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"offer","to":"b","sdp":{"type":"offer","sdp":"v=0"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeOffer, msg.Type)
	assert.Equal(t, "b", msg.To)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(msg.SDP))
	assert.True(t, msg.IsAddressed())

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"roomId":"x"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestChatIsNotAddressed(t *testing.T) {
	assert.False(t, Chat("hi").IsAddressed())
	assert.False(t, Join("r", "n").IsAddressed())
}
