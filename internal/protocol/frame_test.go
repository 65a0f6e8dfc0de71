package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	msgs := []Message{
		SectionStart{SectionName: "Checking out"},
		BuildOutput{Output: "line one\nline two\n"},
		BuildOutput{Output: ""},
		SectionEnd{WasSuccessful: true},
		SectionEnd{WasSuccessful: false},
		FinalStatus{WasSuccessful: true},
	}

	var buf bytes.Buffer
	for _, msg := range msgs {
		require.NoError(t, WriteMessage(&buf, msg))
	}

	r := NewReader(&buf, 0)
	for _, want := range msgs {
		got, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.Read()
	assert.Equal(t, io.EOF, err)
}

func TestFrame_WireFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, FinalStatus{WasSuccessful: true}))

	payload := `{"type":"FinalStatus","wasSuccessful":true}`
	want := make([]byte, 4)
	binary.LittleEndian.PutUint32(want, uint32(len(payload)))
	want = append(want, payload...)
	assert.Equal(t, want, buf.Bytes())
}

func frame(length int32, payload string) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(length))
	return append(b, payload...)
}

func framed(payload string) []byte {
	return frame(int32(len(payload)), payload)
}

func TestReader_Read(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		max     int
		want    Message
		wantErr error
	}{
		{
			name:    "empty stream",
			input:   nil,
			wantErr: io.EOF,
		},
		{
			name:    "partial header",
			input:   []byte{0x01, 0x00},
			wantErr: io.EOF,
		},
		{
			name:  "zero length",
			input: frame(0, ""),
		},
		{
			name:  "negative length",
			input: frame(-5, ""),
		},
		{
			name:    "too long",
			input:   frame(11, `{"type":"x"}`),
			max:     10,
			wantErr: ErrMessageTooLong,
		},
		{
			name:    "truncated payload",
			input:   frame(100, `{"type":"FinalStatus"`),
			wantErr: ErrLengthMismatch,
		},
		{
			name:    "invalid json",
			input:   frame(5, `{nope`),
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "unknown type",
			input:   framed(`{"type":"Bogus"}`),
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "missing field",
			input:   framed(`{"type":"SectionStart"}`),
			wantErr: ErrMalformedMessage,
		},
		{
			name:  "valid",
			input: framed(`{"type":"SectionStart","sectionName":"a"}`),
			want:  SectionStart{SectionName: "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewReader(bytes.NewReader(tt.input), tt.max).Read()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
