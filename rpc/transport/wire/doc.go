// Package wire defines the framing used by the transport.
//
// Every frame starts with a fixed 40 byte ASCII header: a 4 byte type tag
// followed by three 12 digit zero-padded decimal fields for the message,
// attachment and file lengths. The header is followed by exactly that many
// bytes of serialized message, attachment and file payload, in that order.
// The file payload is always last and is streamed rather than buffered.
//
// Message bytes are produced and parsed by an application supplied Codec.
// Decoding yields the closed Decoded union of *Request and *Response.
package wire
