package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known field names
const (
	FieldType     = "type"
	FieldResponse = "response"
	FieldLogin    = "login"
	FieldPassword = "password"
)

var (
	// ErrInvalidDocument indicates a framed document that is not a JSON object
	ErrInvalidDocument = errors.New("invalid JSON document")
	// ErrMissingType indicates a document without a string "type" field
	ErrMissingType = errors.New("missing string field \"type\"")
	// ErrMissingField indicates a kind-specific field that is absent or not a string
	ErrMissingField = errors.New("missing required field")
)

// Message is one decoded inbound document
type Message struct {
	Type   string
	Fields map[string]any
	Raw    []byte
}

// Decode parses a framed document into a Message
func Decode(doc []byte) (*Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if fields == nil {
		return nil, ErrInvalidDocument
	}

	kind, ok := fields[FieldType].(string)
	if !ok {
		return nil, ErrMissingType
	}

	return &Message{
		Type:   kind,
		Fields: fields,
		Raw:    doc,
	}, nil
}

// String returns a required string field
func (m *Message) String(key string) (string, error) {
	v, ok := m.Fields[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %q in %q message", ErrMissingField, key, m.Type)
	}
	return v, nil
}

// Response is one outbound document. Keys are serialized in sorted order.
type Response map[string]any

// Type returns the response type field
func (r Response) Type() string {
	s, _ := r[FieldType].(string)
	return s
}

// Marshal serializes the response for the wire
func (r Response) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(r)); err != nil {
		return nil, fmt.Errorf("failed to marshal %q response: %w", r.Type(), err)
	}
	// Encode terminates with a newline; documents go on the wire back to back
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
