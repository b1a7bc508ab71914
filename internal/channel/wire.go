package channel

import (
	"encoding/json"
	"time"
)

// Inbound command names as sent by the backend.
const (
	CmdStartSharing = "start_location_sharing"
	CmdStopSharing  = "stop_location_sharing"
	CmdGetStatus    = "get_status"
	CmdPing         = "ping"
)

// Command is one decoded inbound command. RequestID is nil when the
// backend did not ask for a correlated reply.
type Command struct {
	Name      string
	RequestID *string
}

// envelope covers every inbound frame shape: plain commands carry
// "command", typed messages carry "type" plus "data".
type envelope struct {
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	RequestID *string         `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// NavigationUpdate is produced by the backend and consumed by the UI
// layer; the agent only decodes and forwards it.
type NavigationUpdate struct {
	Instruction        *string   `json:"instruction"`
	DistanceToNextTurn *float64  `json:"distance_to_next_turn"`
	EtaSeconds         *int32    `json:"eta_seconds"`
	CurrentSpeed       *float64  `json:"current_speed"`
	Timestamp          time.Time `json:"timestamp"`
}

// StatusReply answers start/stop/get_status commands.
type StatusReply struct {
	IsSharing bool    `json:"is_sharing"`
	Status    string  `json:"status"`
	RequestID *string `json:"request_id"`
}

type pongReply struct {
	Type      string  `json:"type"`
	RequestID *string `json:"request_id"`
}

// BatchMessage carries queued compact samples in one frame.
type BatchMessage struct {
	Type      string            `json:"type"`
	Locations []json.RawMessage `json:"locations"`
}

func NewBatchMessage(locations []json.RawMessage) *BatchMessage {
	return &BatchMessage{Type: "batch", Locations: locations}
}
