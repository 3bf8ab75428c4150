package camera

import "time"

// Frame is one captured image. Data belongs to the driver pool and is only
// valid until the frame is released.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Format     PixelFormat
	CapturedAt time.Time
	Seq        uint64

	// slot is the driver pool index.
	slot     int
	owner    *Acquirer
	released bool
}

// Len returns the payload length in bytes.
func (f *Frame) Len() int {
	return len(f.Data)
}
