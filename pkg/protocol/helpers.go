package protocol

import (
	"encoding/base64"
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewHelloMessage creates a device hello message
func NewHelloMessage(hello HelloData) (*Message, error) {
	return NewMessage(TypeHello, hello)
}

// NewLinkMessage creates a link transition message
func NewLinkMessage(link LinkData) (*Message, error) {
	return NewMessage(TypeLink, link)
}

// NewStatsMessage creates a stats message
func NewStatsMessage(stats StatsData) (*Message, error) {
	return NewMessage(TypeStats, stats)
}

// NewFrameMessage creates a frame message with a JPEG preview
func NewFrameMessage(frame FrameData, jpegData []byte) (*Message, error) {
	if len(jpegData) > 0 {
		frame.Data = base64.StdEncoding.EncodeToString(jpegData)
	}
	return NewMessage(TypeFrame, frame)
}

// NewStatusMessage creates a receiver status message
func NewStatusMessage(status StatusData) (*Message, error) {
	return NewMessage(TypeStatus, status)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetHelloData extracts hello data from a message
func (m *Message) GetHelloData() (*HelloData, error) {
	var data HelloData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetLinkData extracts link data from a message
func (m *Message) GetLinkData() (*LinkData, error) {
	var data LinkData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStatsData extracts stats data from a message
func (m *Message) GetStatsData() (*StatsData, error) {
	var data StatsData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// GetStatusData extracts status data from a message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
