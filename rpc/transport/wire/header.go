package wire

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Header layout
// --------------------------------------------------------------------------

const (
	// TagSize is the width of the type tag
	TagSize = 4
	// FieldSize is the width of each zero-padded decimal length field
	FieldSize = 12
	// HeaderSize is the invariant size of every frame header
	HeaderSize = TagSize + 3*FieldSize
	// MaxFieldValue is the largest length a header field can carry
	MaxFieldValue int64 = 999_999_999_999
)

// Tag is the fixed-width ASCII type tag at the start of every frame
type Tag [TagSize]byte

var (
	TagRequest  = Tag{'R', 'Q', 'S', 'T'}
	TagResponse = Tag{'R', 'E', 'S', 'P'}
)

// Known reports whether the tag is one of the defined frame types
func (t Tag) Known() bool {
	return t == TagRequest || t == TagResponse
}

func (t Tag) String() string {
	return fmt.Sprintf("%q", string(t[:]))
}

var (
	ErrShortHeader   = errors.New("header too short")
	ErrMalformedLen  = errors.New("header length field is not a decimal number")
	ErrLenOutOfRange = errors.New("length out of range for header field")
)

// Header precedes every frame on the wire:
//
//	+------+--------------+--------------+--------------+
//	| tag  | message len  | attach len   | file len     |
//	| 4 B  | 12 B decimal | 12 B decimal | 12 B decimal |
//	+------+--------------+--------------+--------------+
type Header struct {
	Tag           Tag
	MessageLen    int64
	AttachmentLen int64
	FileLen       int64
}

// Total returns the number of bytes following the header
func (h Header) Total() int64 {
	return h.MessageLen + h.AttachmentLen + h.FileLen
}

func (h Header) String() string {
	return fmt.Sprintf("%s msg=%d att=%d file=%d", h.Tag, h.MessageLen, h.AttachmentLen, h.FileLen)
}

// --------------------------------------------------------------------------
// Encode / Decode
// --------------------------------------------------------------------------

// EncodeTo writes the header into dst, which must hold at least HeaderSize bytes
func (h Header) EncodeTo(dst []byte) error {
	if len(dst) < HeaderSize {
		return ErrShortHeader
	}
	copy(dst[:TagSize], h.Tag[:])
	for i, v := range [3]int64{h.MessageLen, h.AttachmentLen, h.FileLen} {
		if v < 0 || v > MaxFieldValue {
			return fmt.Errorf("%w: %d", ErrLenOutOfRange, v)
		}
		putDecimal(dst[TagSize+i*FieldSize:TagSize+(i+1)*FieldSize], v)
	}
	return nil
}

// Encode returns the header as a fresh HeaderSize byte slice
func (h Header) Encode() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	if err := h.EncodeTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeHeader parses a header. An unknown tag is not an error here,
// callers check Tag.Known() and resynchronize using the lengths.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, ErrShortHeader
	}
	copy(h.Tag[:], b[:TagSize])

	fields := [3]*int64{&h.MessageLen, &h.AttachmentLen, &h.FileLen}
	for i, f := range fields {
		v, ok := parseDecimal(b[TagSize+i*FieldSize : TagSize+(i+1)*FieldSize])
		if !ok {
			return h, ErrMalformedLen
		}
		*f = v
	}
	return h, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func putDecimal(dst []byte, v int64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte('0' + v%10)
		v /= 10
	}
}

func parseDecimal(b []byte) (int64, bool) {
	var v int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int64(c-'0')
	}
	return v, true
}
