package chat

import (
	"github.com/arkline/chatmesh/pkg/json"
)

// Client frame types.
const (
	FrameChatSend    = "chat.send"
	FrameChatHistory = "chat.history"
)

// Server frame types.
const (
	FrameChatMessage = "chat.message"
	FrameError       = "error"
)

// ClientFrame is the JSON structure expected from a client.
type ClientFrame struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	Limit   int    `json:"limit,omitempty"`
}

// ServerFrame is the standard structure for frames sent to clients.
type ServerFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// EncodeMessageFrame serializes a chat message into the frame delivered to
// clients. Fan-out serializes once and reuses the bytes for every
// connection.
func EncodeMessageFrame(msg *Message) ([]byte, error) {
	return json.Marshal(ServerFrame{Type: FrameChatMessage, Payload: msg})
}

// EncodeErrorFrame serializes an error frame for a client.
func EncodeErrorFrame(message string) ([]byte, error) {
	return json.Marshal(ServerFrame{Type: FrameError, Payload: map[string]string{"message": message}})
}
