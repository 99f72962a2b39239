package websocket

import (
	"encoding/json"
	"time"

	"aquasync-server/internal/domain"
)

type MessageType string

const (
	TypePullRequest  MessageType = "pull_request"
	TypePullResponse MessageType = "pull_response"
	TypeRecordUpdate MessageType = "record_update"
	TypeRecordDelete MessageType = "record_delete"
	TypeConflict     MessageType = "conflict"
	TypeAck          MessageType = "ack"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// PullRequestPayload lets a connected client ask for changes without a
// separate HTTP round-trip.
type PullRequestPayload struct {
	DeviceID          string    `json:"device_id"`
	LastSyncTimestamp time.Time `json:"last_sync_timestamp"`
}

type PullResponsePayload struct {
	Entities        []domain.SyncEnvelope `json:"entities"`
	ServerTimestamp time.Time             `json:"server_timestamp"`
}

// RecordChangePayload notifies a device that another device of the same
// user pushed a change the server accepted.
type RecordChangePayload struct {
	Entity   domain.SyncEnvelope `json:"entity"`
	DeviceID string              `json:"device_id"`
}

type ConflictPayload struct {
	BackupID   string            `json:"backup_id"`
	EntityID   string            `json:"entity_id"`
	EntityType domain.EntityType `json:"entity_type"`
}

type AckPayload struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
