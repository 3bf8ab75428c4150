package hub

import "github.com/teslashibe/go-wificam/pkg/protocol"

// Kind selects the websocket frame type used for a Message.
type Kind int

const (
	// Text carries a JSON protocol envelope.
	Text Kind = iota
	// Binary carries raw bytes such as a JPEG preview.
	Binary
)

// Message is one broadcast payload. Data is shared by every client and must
// not be modified after Broadcast.
type Message struct {
	Kind Kind
	Data []byte
}

// TextMessage wraps pre-encoded JSON.
func TextMessage(data []byte) Message {
	return Message{Kind: Text, Data: data}
}

// BinaryMessage wraps raw bytes.
func BinaryMessage(data []byte) Message {
	return Message{Kind: Binary, Data: data}
}

// EnvelopeMessage encodes a protocol message as a Text message.
func EnvelopeMessage(msg *protocol.Message) (Message, error) {
	data, err := msg.Bytes()
	if err != nil {
		return Message{}, err
	}
	return TextMessage(data), nil
}
