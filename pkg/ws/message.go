package ws

import (
	"encoding/json"
)

const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Message is one decoded frame: *Request, *Response or *Event.
type Message interface {
	Type() string
	isMessage()
}

type Request struct {
	ID     string
	Method string
	Params json.RawMessage
}

type Response struct {
	ID      string
	OK      bool
	Body    json.RawMessage
	Payload json.RawMessage
	Error   *ErrorBody
}

type Event struct {
	Name    string
	Payload json.RawMessage
}

type ErrorBody struct {
	Message string `json:"message"`
}

func (*Request) Type() string  { return TypeRequest }
func (*Response) Type() string { return TypeResponse }
func (*Event) Type() string    { return TypeEvent }

func (*Request) isMessage()  {}
func (*Response) isMessage() {}
func (*Event) isMessage()    {}

// NewRequest marshals params; nil params are sent as an empty object.
func NewRequest(id, method string, params any) (*Request, error) {
	data, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{
		ID:     id,
		Method: method,
		Params: data,
	}, nil
}

func NewResponse(requestID string, body any) (*Response, error) {
	resp := &Response{ID: requestID, OK: true}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}

		resp.Body = data
	}

	return resp, nil
}

func NewErrorResponse(requestID string, err error) *Response {
	resp := &Response{ID: requestID}
	if err != nil {
		resp.Error = &ErrorBody{Message: err.Error()}
	}

	return resp
}

func NewEvent(name string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{Name: name, Payload: data}, nil
}

// Result returns the response body. Older gateways put it under "payload".
func (r *Response) Result() json.RawMessage {
	if !isEmptyJSON(r.Body) {
		return r.Body
	}

	if !isEmptyJSON(r.Payload) {
		return r.Payload
	}

	return nil
}

func (r *Request) UnmarshalParams(v any) error {
	return json.Unmarshal(r.Params, v)
}

func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if isEmptyJSON(p) {
			return json.RawMessage("{}"), nil
		}

		return p, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}

		if isEmptyJSON(data) {
			return json.RawMessage("{}"), nil
		}

		return data, nil
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
