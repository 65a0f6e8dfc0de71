package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxMessageLength bounds the declared length of an incoming frame.
const DefaultMaxMessageLength = 8 * 1024 * 1024

// headerLength is the size of the little-endian length prefix.
const headerLength = 4

// Protocol errors. All of them are fatal to the connection: the stream
// position is unknown afterwards and no attempt is made to resynchronise.
var (
	ErrMessageTooLong   = errors.New("message too long")
	ErrLengthMismatch   = errors.New("message length mismatch")
	ErrMalformedMessage = errors.New("malformed message")
)

// WriteMessage writes a framed message to w: a 4 byte little-endian length
// followed by the JSON payload. Header and payload are handed to w in a
// single call so that message-oriented transports keep them together.
func WriteMessage(w io.Writer, msg Message) error {
	payload, err := Marshal(msg)
	if err != nil {
		return err
	}
	frame := make([]byte, headerLength+len(payload))
	binary.LittleEndian.PutUint32(frame[:headerLength], uint32(len(payload)))
	copy(frame[headerLength:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Reader reads framed messages from an underlying stream.
type Reader struct {
	r   io.Reader
	max int
}

// NewReader constructs a reader. A max of zero or less uses
// DefaultMaxMessageLength.
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = DefaultMaxMessageLength
	}
	return &Reader{r: r, max: max}
}

// Read reads the next message.
//
// It returns io.EOF once the peer has closed the stream; that is the normal
// end of a conversation rather than an error. A frame declaring a length of
// zero or less yields a nil message and nil error: nothing was sent but the
// stream is still open.
func (r *Reader) Read() (Message, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading message header: %w", err)
	}
	length := int32(binary.LittleEndian.Uint32(header[:]))
	if int64(length) > int64(r.max) {
		return nil, fmt.Errorf("%w: declared %d bytes, maximum is %d", ErrMessageTooLong, length, r.max)
	}
	if length <= 0 {
		return nil, nil
	}
	payload := make([]byte, length)
	n, err := io.ReadFull(r.r, payload)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: declared %d bytes, read %d", ErrLengthMismatch, length, n)
		}
		return nil, fmt.Errorf("reading message payload: %w", err)
	}
	return Unmarshal(payload)
}
