package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkline/chatmesh/pkg/json"
)

func TestEnvelopeWireFields(t *testing.T) {
	env := Envelope{
		ID:              "srv-a-1",
		ServerID:        "srv-a",
		RoomID:          "room-1",
		ExcludeServerID: "srv-a",
		Timestamp:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload:         Message{ID: "m1", Content: "hi", RoomID: "room-1"},
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, field := range []string{"id", "serverId", "roomId", "excludeServerId", "timestamp", "payload"} {
		assert.Contains(t, raw, field)
	}

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.ServerID, decoded.ServerID)
	assert.Equal(t, env.ExcludeServerID, decoded.ExcludeServerID)
	assert.Equal(t, env.Payload, decoded.Payload)
	assert.True(t, env.Timestamp.Equal(decoded.Timestamp))
}

func TestEnvelopeOmitsEmptyExclusion(t *testing.T) {
	data, err := json.Marshal(Envelope{ID: "srv-a-1", ServerID: "srv-a", RoomID: "room-1"})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "excludeServerId")
}

func TestEncodeMessageFrame(t *testing.T) {
	data, err := EncodeMessageFrame(&Message{ID: "m1", Content: "hello", RoomID: "room-1", SequenceNumber: 7})
	require.NoError(t, err)

	var frame struct {
		Type    string  `json:"type"`
		Payload Message `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, FrameChatMessage, frame.Type)
	assert.Equal(t, "hello", frame.Payload.Content)
	assert.Equal(t, int64(7), frame.Payload.SequenceNumber)
}

func TestEncodeErrorFrame(t *testing.T) {
	data, err := EncodeErrorFrame("room not found")
	require.NoError(t, err)

	var frame struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, "room not found", frame.Payload["message"])
}

func TestServerIdentity(t *testing.T) {
	assert.Equal(t, "configured-id", ServerIdentity("configured-id"))

	// Without configuration the hostname fallback yields a stable,
	// non-empty identity.
	id := ServerIdentity("")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, ServerIdentity(""))
}
