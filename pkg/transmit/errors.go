package transmit

import "fmt"

// ConnectError means the connection was never established. No bytes were
// written.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transmit: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SendError means a write failed mid-stream. Sent payload bytes were
// delivered to the socket and are not retracted.
type SendError struct {
	Endpoint string
	Sent     int
	Total    int
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("transmit: send to %s failed after %d/%d bytes: %v", e.Endpoint, e.Sent, e.Total, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
