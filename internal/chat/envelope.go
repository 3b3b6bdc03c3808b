package chat

import "time"

// Envelope is the cross-process wrapper carrying one chat message plus
// routing metadata over the broadcast bus. Created once per publish,
// never mutated, discarded after delivery.
type Envelope struct {
	ID              string    `json:"id"`
	ServerID        string    `json:"serverId"`
	RoomID          string    `json:"roomId"`
	ExcludeServerID string    `json:"excludeServerId,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Payload         Message   `json:"payload"`
}
