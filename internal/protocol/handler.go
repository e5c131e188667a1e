package protocol

import (
	"fmt"
	"sync"
)

// Message kinds with special handling
const (
	KindUserLogin = "userLogin"

	// ResponseSuffix is appended to the inbound kind to name the generic response type
	ResponseSuffix = "Response"

	// TypeUserLoginAnswer is the response type for userLogin. It does not follow
	// the generic "<kind>Response" rule and must stay that way for existing clients.
	TypeUserLoginAnswer = "userLoginAnswer"
)

// HandlerFunc fills resp for msg. resp arrives pre-populated with the generic
// response type, which the handler may overwrite.
type HandlerFunc func(msg *Message, resp Response) error

// Dispatcher turns one inbound message into one outbound response
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates a Dispatcher with the built-in kinds registered
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
	}
	d.Handle(KindUserLogin, handleUserLogin)
	return d
}

// Handle registers h for kind, replacing any previous handler
func (d *Dispatcher) Handle(kind string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Dispatch generates the response for msg.
// Kinds without a handler get only the generic type field.
func (d *Dispatcher) Dispatch(msg *Message) (Response, error) {
	resp := Response{FieldType: msg.Type + ResponseSuffix}

	d.mu.RLock()
	h := d.handlers[msg.Type]
	d.mu.RUnlock()

	if h == nil {
		return resp, nil
	}
	if err := h(msg, resp); err != nil {
		return nil, fmt.Errorf("failed to handle %q message: %w", msg.Type, err)
	}
	return resp, nil
}

// DispatchDocument decodes doc, dispatches it and serializes the response
func (d *Dispatcher) DispatchDocument(doc []byte) (*Message, []byte, error) {
	msg, err := Decode(doc)
	if err != nil {
		return nil, nil, err
	}

	resp, err := d.Dispatch(msg)
	if err != nil {
		return msg, nil, err
	}

	data, err := resp.Marshal()
	if err != nil {
		return msg, nil, err
	}
	return msg, data, nil
}

// LoginName reports the login carried by a userLogin message
func LoginName(msg *Message) (string, bool) {
	if msg == nil || msg.Type != KindUserLogin {
		return "", false
	}
	login, err := msg.String(FieldLogin)
	if err != nil {
		return "", false
	}
	return login, true
}

func handleUserLogin(msg *Message, resp Response) error {
	login, err := msg.String(FieldLogin)
	if err != nil {
		return err
	}
	password, err := msg.String(FieldPassword)
	if err != nil {
		return err
	}

	resp[FieldType] = TypeUserLoginAnswer
	resp[FieldResponse] = "Msg from server: Login successful! Login = " + login + " Password = " + password
	return nil
}
