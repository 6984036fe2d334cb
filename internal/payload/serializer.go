// Package payload handles job payload serialization with format detection.
// A payload is stored as a single format byte followed by the encoded
// body, so JSON and protobuf payloads can coexist in the same queue.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Format identifies the encoding used for a payload's body.
type Format byte

const (
	// FormatJSON is the default, backward-compatible encoding.
	FormatJSON Format = 0x00

	// FormatProtobuf encodes the body with protobuf.
	FormatProtobuf Format = 0x01
)

var (
	ErrUnknownFormat   = errors.New("unknown payload format")
	ErrMarshalFailed   = errors.New("failed to marshal payload")
	ErrUnmarshalFailed = errors.New("failed to unmarshal payload")
)

// Serializer encodes and decodes job payloads under a default format.
type Serializer struct {
	DefaultFormat Format
}

// NewSerializer returns a Serializer defaulting to the given format.
func NewSerializer(defaultFormat Format) *Serializer {
	return &Serializer{DefaultFormat: defaultFormat}
}

// NewProtobufSerializer returns a Serializer defaulting to protobuf.
func NewProtobufSerializer() *Serializer {
	return &Serializer{DefaultFormat: FormatProtobuf}
}

// NewJSONSerializer returns a Serializer defaulting to JSON.
func NewJSONSerializer() *Serializer {
	return &Serializer{DefaultFormat: FormatJSON}
}

// Marshal encodes v with the serializer's default format.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	return s.MarshalWithFormat(v, s.DefaultFormat)
}

// MarshalWithFormat encodes v with the given format and prepends the
// format byte to the result.
func (s *Serializer) MarshalWithFormat(v interface{}, format Format) ([]byte, error) {
	var data []byte
	var err error

	switch format {
	case FormatJSON:
		data, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w (JSON): %v", ErrMarshalFailed, err)
		}

	case FormatProtobuf:
		msg, ok := v.(proto.Message)
		if !ok {
			return nil, fmt.Errorf("%w: value does not implement proto.Message", ErrMarshalFailed)
		}
		data, err = proto.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("%w (Protobuf): %v", ErrMarshalFailed, err)
		}

	default:
		return nil, fmt.Errorf("%w: format %d", ErrUnknownFormat, format)
	}

	result := make([]byte, len(data)+1)
	result[0] = byte(format)
	copy(result[1:], data)
	return result, nil
}

// Unmarshal decodes data into v, auto-detecting the format.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUnmarshalFailed)
	}
	format, body, err := s.DetectFormat(data)
	if err != nil {
		return err
	}
	return s.UnmarshalWithFormat(body, v, format)
}

// UnmarshalWithFormat decodes data (with no format prefix) into v using
// the given format.
func (s *Serializer) UnmarshalWithFormat(data []byte, v interface{}, format Format) error {
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w (JSON): %v", ErrUnmarshalFailed, err)
		}
		return nil

	case FormatProtobuf:
		msg, ok := v.(proto.Message)
		if !ok {
			return fmt.Errorf("%w: value does not implement proto.Message", ErrUnmarshalFailed)
		}
		if err := proto.Unmarshal(data, msg); err != nil {
			return fmt.Errorf("%w (Protobuf): %v", ErrUnmarshalFailed, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: format %d", ErrUnknownFormat, format)
	}
}

// DetectFormat splits data into its format and body. Un-prefixed legacy
// JSON (starting with '{' or '[') is accepted for backward compatibility.
func (s *Serializer) DetectFormat(data []byte) (Format, []byte, error) {
	if len(data) == 0 {
		return FormatJSON, nil, fmt.Errorf("%w: empty payload", ErrUnknownFormat)
	}

	format := Format(data[0])
	switch format {
	case FormatJSON, FormatProtobuf:
		if len(data) < 2 {
			return format, nil, fmt.Errorf("%w: payload too short", ErrUnmarshalFailed)
		}
		return format, data[1:], nil

	default:
		if data[0] == '{' || data[0] == '[' {
			return FormatJSON, data, nil
		}
		return FormatJSON, data, fmt.Errorf("%w: unknown format byte 0x%02X", ErrUnknownFormat, data[0])
	}
}

// IsProtobuf reports whether data is protobuf-encoded.
func (s *Serializer) IsProtobuf(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return Format(data[0]) == FormatProtobuf
}

// IsJSON reports whether data is JSON-encoded, with or without a format
// prefix.
func (s *Serializer) IsJSON(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if Format(data[0]) == FormatJSON {
		return true
	}
	return data[0] == '{' || data[0] == '['
}

// GetFormat returns the format of an encoded payload.
func (s *Serializer) GetFormat(data []byte) (Format, error) {
	format, _, err := s.DetectFormat(data)
	return format, err
}
