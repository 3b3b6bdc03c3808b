package chat

import "time"

// MessageType classifies the payload of a chat message.
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeSystem MessageType = "SYSTEM"
)

// Message is the wire and domain payload for one chat message.
// It is immutable once constructed.
type Message struct {
	ID             string      `json:"id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	RoomID         string      `json:"roomId"`
	SenderID       string      `json:"senderId"`
	SenderName     string      `json:"senderName"`
	SequenceNumber int64       `json:"sequenceNumber"`
	Timestamp      time.Time   `json:"timestamp"`
}

// User is the authenticated identity behind a connection.
type User struct {
	ID   string
	Name string
}
