package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame connections carry the raw payload by default. With header framing
// enabled the device writes a FrameHeader first so the receiver can detect
// truncation and corruption. This changes the wire format and both ends must
// agree on it.
//
// Layout (big endian, HeaderSize bytes):
//
//	0  magic   "WCAM"
//	4  version uint8
//	5  format  uint8
//	6  flags   uint16 (reserved, zero)
//	8  seq     uint32
//	12 width   uint16
//	14 height  uint16
//	16 length  uint32 payload bytes that follow
//	20 crc32   uint32 IEEE checksum of the payload
const (
	HeaderSize    = 24
	HeaderVersion = 1
)

var headerMagic = [4]byte{'W', 'C', 'A', 'M'}

var (
	ErrBadMagic           = errors.New("protocol: bad frame header magic")
	ErrUnsupportedVersion = errors.New("protocol: unsupported frame header version")
	ErrShortHeader        = errors.New("protocol: short frame header")
	ErrChecksum           = errors.New("protocol: payload checksum mismatch")
	ErrLength             = errors.New("protocol: payload length mismatch")
)

// Pixel format codes carried in the header.
const (
	FormatGrayscale uint8 = iota
	FormatRGB565
	FormatYUV422
	FormatJPEG
)

var formatNames = map[uint8]string{
	FormatGrayscale: "grayscale",
	FormatRGB565:    "rgb565",
	FormatYUV422:    "yuv422",
	FormatJPEG:      "jpeg",
}

// FormatCode maps a pixel format name to its header code.
func FormatCode(name string) (uint8, bool) {
	for code, n := range formatNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// FormatName maps a header code to the pixel format name.
func FormatName(code uint8) string {
	if n, ok := formatNames[code]; ok {
		return n
	}
	return fmt.Sprintf("format_%d", code)
}

// FrameHeader precedes the payload when header framing is enabled.
type FrameHeader struct {
	Version uint8
	Format  uint8
	Seq     uint32
	Width   uint16
	Height  uint16
	Length  uint32
	CRC32   uint32
}

// NewFrameHeader builds a header describing payload.
func NewFrameHeader(seq uint32, width, height int, format uint8, payload []byte) FrameHeader {
	return FrameHeader{
		Version: HeaderVersion,
		Format:  format,
		Seq:     seq,
		Width:   uint16(width),
		Height:  uint16(height),
		Length:  uint32(len(payload)),
		CRC32:   crc32.ChecksumIEEE(payload),
	}
}

// MarshalBinary encodes the header.
func (h FrameHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	copy(b[0:4], headerMagic[:])
	b[4] = h.Version
	b[5] = h.Format
	binary.BigEndian.PutUint32(b[8:12], h.Seq)
	binary.BigEndian.PutUint16(b[12:14], h.Width)
	binary.BigEndian.PutUint16(b[14:16], h.Height)
	binary.BigEndian.PutUint32(b[16:20], h.Length)
	binary.BigEndian.PutUint32(b[20:24], h.CRC32)
	return b, nil
}

// UnmarshalBinary decodes a header.
func (h *FrameHeader) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return ErrShortHeader
	}
	if [4]byte(b[0:4]) != headerMagic {
		return ErrBadMagic
	}
	if b[4] != HeaderVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[4])
	}
	h.Version = b[4]
	h.Format = b[5]
	h.Seq = binary.BigEndian.Uint32(b[8:12])
	h.Width = binary.BigEndian.Uint16(b[12:14])
	h.Height = binary.BigEndian.Uint16(b[14:16])
	h.Length = binary.BigEndian.Uint32(b[16:20])
	h.CRC32 = binary.BigEndian.Uint32(b[20:24])
	return nil
}

// ReadFrameHeader reads and decodes one header from r.
func ReadFrameHeader(r io.Reader) (FrameHeader, error) {
	var h FrameHeader
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return h, ErrShortHeader
		}
		return h, err
	}
	err := h.UnmarshalBinary(buf)
	return h, err
}

// Verify checks payload against the header length and checksum.
func (h FrameHeader) Verify(payload []byte) error {
	if uint32(len(payload)) != h.Length {
		return fmt.Errorf("%w: got %d, header says %d", ErrLength, len(payload), h.Length)
	}
	if crc32.ChecksumIEEE(payload) != h.CRC32 {
		return ErrChecksum
	}
	return nil
}
