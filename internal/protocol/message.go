// Package protocol implements the real-time channel between a build agent
// and the coordinator: a stream of JSON messages, each prefixed with its
// length, carried over a single websocket connection.
package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// MessageType is the discriminant carried in the "type" field of every
// message.
type MessageType string

const (
	SectionStartType MessageType = "SectionStart"
	SectionEndType   MessageType = "SectionEnd"
	BuildOutputType  MessageType = "BuildOutput"
	FinalStatusType  MessageType = "FinalStatus"
)

// Message is one of SectionStart, SectionEnd, BuildOutput or FinalStatus.
type Message interface {
	Type() MessageType

	// sealed prevents other packages adding variants.
	sealed()
}

type (
	// SectionStart opens a named span of output.
	SectionStart struct {
		SectionName string `json:"sectionName"`
	}

	// SectionEnd closes the currently open section.
	SectionEnd struct {
		WasSuccessful bool `json:"wasSuccessful"`
	}

	// BuildOutput is text belonging to the currently open section.
	BuildOutput struct {
		Output string `json:"output"`
	}

	// FinalStatus is the verdict of the whole job. It is the last message an
	// agent sends.
	FinalStatus struct {
		WasSuccessful bool `json:"wasSuccessful"`
	}
)

func (SectionStart) Type() MessageType { return SectionStartType }
func (SectionEnd) Type() MessageType   { return SectionEndType }
func (BuildOutput) Type() MessageType  { return BuildOutputType }
func (FinalStatus) Type() MessageType  { return FinalStatusType }

func (SectionStart) sealed() {}
func (SectionEnd) sealed()   {}
func (BuildOutput) sealed()  {}
func (FinalStatus) sealed()  {}

func (m SectionStart) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(m.Type())), slog.String("name", m.SectionName))
}

func (m SectionEnd) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(m.Type())), slog.Bool("success", m.WasSuccessful))
}

func (m BuildOutput) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(m.Type())), slog.Int("bytes", len(m.Output)))
}

func (m FinalStatus) LogValue() slog.Value {
	return slog.GroupValue(slog.String("type", string(m.Type())), slog.Bool("success", m.WasSuccessful))
}

// envelope is the wire representation of every variant.
type envelope struct {
	Type          MessageType `json:"type"`
	SectionName   *string     `json:"sectionName,omitempty"`
	WasSuccessful *bool       `json:"wasSuccessful,omitempty"`
	Output        *string     `json:"output,omitempty"`
}

// Marshal encodes msg as JSON with its discriminant.
func Marshal(msg Message) ([]byte, error) {
	env := envelope{Type: msg.Type()}
	switch m := msg.(type) {
	case SectionStart:
		env.SectionName = &m.SectionName
	case SectionEnd:
		env.WasSuccessful = &m.WasSuccessful
	case BuildOutput:
		env.Output = &m.Output
	case FinalStatus:
		env.WasSuccessful = &m.WasSuccessful
	default:
		return nil, fmt.Errorf("unknown message type: %T", msg)
	}
	return json.Marshal(env)
}

// Unmarshal decodes a JSON payload into the variant selected by its "type"
// field. Any decoding failure is reported as ErrMalformedMessage.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	switch env.Type {
	case SectionStartType:
		if env.SectionName == nil {
			return nil, fmt.Errorf("%w: %s without sectionName", ErrMalformedMessage, env.Type)
		}
		return SectionStart{SectionName: *env.SectionName}, nil
	case SectionEndType:
		if env.WasSuccessful == nil {
			return nil, fmt.Errorf("%w: %s without wasSuccessful", ErrMalformedMessage, env.Type)
		}
		return SectionEnd{WasSuccessful: *env.WasSuccessful}, nil
	case BuildOutputType:
		if env.Output == nil {
			return nil, fmt.Errorf("%w: %s without output", ErrMalformedMessage, env.Type)
		}
		return BuildOutput{Output: *env.Output}, nil
	case FinalStatusType:
		if env.WasSuccessful == nil {
			return nil, fmt.Errorf("%w: %s without wasSuccessful", ErrMalformedMessage, env.Type)
		}
		return FinalStatus{WasSuccessful: *env.WasSuccessful}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, env.Type)
	}
}
