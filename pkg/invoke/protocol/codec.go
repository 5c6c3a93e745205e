package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Codec encodes call arguments and decodes results at the protocol
// boundary. Any implementation that round-trips the supported argument
// types satisfies the contract; the control plane never looks inside the
// encoded strings.
type Codec interface {
	// Encode serializes a value into an opaque payload string.
	Encode(v interface{}) (string, error)

	// Decode deserializes a payload string into out.
	Decode(payload string, out interface{}) error
}

// JSONCodec encodes values as base64-wrapped JSON. It handles every value
// the JSON marshaller supports, which covers the framework's argument
// surface.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode implements Codec.
func (JSONCodec) Decode(payload string, out interface{}) error {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}
