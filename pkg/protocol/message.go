// Package protocol defines the messages exchanged between a framecast device
// and a framesink receiver: the JSON WebSocket envelope used for telemetry and
// the dashboard, and the optional binary header used on frame connections.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Device → Receiver messages
	TypeHello MessageType = "hello" // Device identity, sent once per connection
	TypeLink  MessageType = "link"  // Wi-Fi state transition
	TypeStats MessageType = "stats" // Streamer counters

	// Receiver → Dashboard messages
	TypeFrame  MessageType = "frame"  // Received frame (JPEG preview)
	TypeStatus MessageType = "status" // Receiver and device status

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Device → Receiver Message Types
// =============================================================================

// HelloData identifies a device
type HelloData struct {
	DeviceID string `json:"device_id"`
	Board    string `json:"board"`
	Version  string `json:"version,omitempty"`
	Endpoint string `json:"endpoint"` // Frame destination ip:port
	Framing  string `json:"framing"`  // "raw" or "header"
}

// LinkData describes one Wi-Fi state transition
type LinkData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Reason  string `json:"reason,omitempty"`
	IP      string `json:"ip,omitempty"`
	Retries int    `json:"retries"`
	GaveUp  bool   `json:"gave_up,omitempty"`
}

// StatsData contains streamer counters
type StatsData struct {
	Cycles        uint64 `json:"cycles"`
	FramesSent    uint64 `json:"frames_sent"`
	BytesSent     uint64 `json:"bytes_sent"`
	ConnectErrors uint64 `json:"connect_errors"`
	SendErrors    uint64 `json:"send_errors"`
	CaptureErrors uint64 `json:"capture_errors"`
	BootCount     uint64 `json:"boot_count"`
	UptimeMs      int64  `json:"uptime_ms"`
	LinkState     string `json:"link_state"`
}

// =============================================================================
// Receiver → Dashboard Message Types
// =============================================================================

// FrameData describes a received frame
type FrameData struct {
	ID        string `json:"id"`
	Seq       uint64 `json:"seq"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"` // Source pixel format
	Bytes     int    `json:"bytes"`  // Payload bytes received
	Truncated bool   `json:"truncated"`
	Remote    string `json:"remote,omitempty"`
	Data      string `json:"data,omitempty"` // base64 JPEG preview
}

// StatusData contains receiver counters
type StatusData struct {
	Listen      string   `json:"listen"`
	Connections uint64   `json:"connections"`
	Frames      uint64   `json:"frames"`
	Truncated   uint64   `json:"truncated"`
	Rejected    uint64   `json:"rejected"`
	Devices     []string `json:"devices"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
