package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	values := []int64{0, 1, 40, 65536, MaxFieldValue}

	for _, tag := range []Tag{TagRequest, TagResponse} {
		for _, m := range values {
			for _, a := range values {
				for _, f := range values {
					h := Header{Tag: tag, MessageLen: m, AttachmentLen: a, FileLen: f}
					b, err := h.Encode()
					if err != nil {
						t.Fatalf("encode %s: %v", h, err)
					}
					if len(b) != HeaderSize {
						t.Fatalf("encoded header has %d bytes, want %d", len(b), HeaderSize)
					}
					got, err := DecodeHeader(b)
					if err != nil {
						t.Fatalf("decode %s: %v", h, err)
					}
					if got != h {
						t.Errorf("round trip mismatch: got %s, want %s", got, h)
					}
				}
			}
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	h := Header{Tag: TagRequest, MessageLen: 12, AttachmentLen: 0, FileLen: 7}
	b, err := h.Encode()
	if err != nil {
		t.Fatal(err)
	}
	want := "RQST000000000012000000000000000000000007"
	if string(b) != want {
		t.Errorf("got %q, want %q", b, want)
	}
}

func TestHeaderEncodeOutOfRange(t *testing.T) {
	tests := []Header{
		{Tag: TagRequest, MessageLen: -1},
		{Tag: TagRequest, AttachmentLen: MaxFieldValue + 1},
		{Tag: TagResponse, FileLen: MaxFieldValue * 2},
	}
	for _, h := range tests {
		if _, err := h.Encode(); !errors.Is(err, ErrLenOutOfRange) {
			t.Errorf("%s: expected ErrLenOutOfRange, got %v", h, err)
		}
	}
}

func TestDecodeHeaderErrors(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		if _, err := DecodeHeader([]byte("RQST0001")); !errors.Is(err, ErrShortHeader) {
			t.Errorf("expected ErrShortHeader, got %v", err)
		}
	})

	t.Run("non decimal", func(t *testing.T) {
		b := []byte("RQST00000000001x000000000000000000000000")
		if _, err := DecodeHeader(b); !errors.Is(err, ErrMalformedLen) {
			t.Errorf("expected ErrMalformedLen, got %v", err)
		}
	})

	t.Run("unknown tag decodes", func(t *testing.T) {
		b := []byte("XXXX000000000003000000000002000000000001")
		h, err := DecodeHeader(b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.Tag.Known() {
			t.Error("tag XXXX must not be known")
		}
		if h.Total() != 6 {
			t.Errorf("total = %d, want 6", h.Total())
		}
	})
}

func TestChunks(t *testing.T) {
	data := bytes.Repeat([]byte{'a'}, 10)

	tests := []struct {
		block int
		sizes []int
	}{
		{block: 3, sizes: []int{3, 3, 3, 1}},
		{block: 5, sizes: []int{5, 5}},
		{block: 64, sizes: []int{10}},
	}
	for _, tt := range tests {
		chunks := Chunks(data, tt.block)
		if len(chunks) != len(tt.sizes) {
			t.Fatalf("block %d: got %d chunks, want %d", tt.block, len(chunks), len(tt.sizes))
		}
		for i, c := range chunks {
			if len(c) != tt.sizes[i] {
				t.Errorf("block %d chunk %d: size %d, want %d", tt.block, i, len(c), tt.sizes[i])
			}
		}
	}
	if Chunks(nil, 4) != nil {
		t.Error("empty input must yield no chunks")
	}
}

func TestDecodedUnion(t *testing.T) {
	var d Decoded = &Request{ID: 9}
	if d.Tag() != TagRequest || d.RequestID() != 9 {
		t.Errorf("unexpected request view: %s %d", d.Tag(), d.RequestID())
	}
	d = &Response{ID: 10}
	if d.Tag() != TagResponse || d.RequestID() != 10 {
		t.Errorf("unexpected response view: %s %d", d.Tag(), d.RequestID())
	}
}
