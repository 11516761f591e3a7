package rpc

import (
	"encoding/json"
	"fmt"

	msgpack "github.com/hashicorp/go-msgpack/codec"
)

// MaxMessageSize is the largest serialized message body the adapter will
// write to or accept from the channel, in bytes.
const MaxMessageSize = 10_000_000

// Codec serializes and deserializes the messages of a single method. The
// envelope itself is framed by the channel; codecs only see message bodies.
type Codec interface {
	// Name returns the name of the codec.
	Name() string

	// Marshal serializes a message into a body payload.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a body payload into a message.
	Unmarshal(data []byte, v any) error
}

// JSONCodec is a Codec that encodes messages as JSON.
type JSONCodec struct{}

// Name implements the Codec interface.
func (JSONCodec) Name() string { return "json" }

// Marshal implements the Codec interface.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds the %d byte limit", len(data), MaxMessageSize)
	}
	return data, nil
}

// Unmarshal implements the Codec interface.
func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds the %d byte limit", len(data), MaxMessageSize)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}

// msgpackHandle is shared by every MsgpackCodec. RawToString and WriteExt
// match the handle used on the server side.
var msgpackHandle = &msgpack.MsgpackHandle{RawToString: true, WriteExt: true}

// MsgpackCodec is a Codec that encodes messages as msgpack.
type MsgpackCodec struct{}

// Name implements the Codec interface.
func (MsgpackCodec) Name() string { return "msgpack" }

// Marshal implements the Codec interface.
func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	var data []byte
	if err := msgpack.NewEncoderBytes(&data, msgpackHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds the %d byte limit", len(data), MaxMessageSize)
	}
	return data, nil
}

// Unmarshal implements the Codec interface.
func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds the %d byte limit", len(data), MaxMessageSize)
	}
	if err := msgpack.NewDecoderBytes(data, msgpackHandle).Decode(v); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}
