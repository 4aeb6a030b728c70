package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

type wireRequest struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type wireResponse struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Body    json.RawMessage `json:"body,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

type wireEvent struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeMessage serializes msg to a JSON text frame.
func EncodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		params := m.Params
		if isEmptyJSON(params) {
			params = json.RawMessage("{}")
		}

		return json.Marshal(wireRequest{
			Type:   TypeRequest,
			ID:     m.ID,
			Method: m.Method,
			Params: params,
		})
	case *Response:
		return json.Marshal(wireResponse{
			Type:    TypeResponse,
			ID:      m.ID,
			OK:      m.OK,
			Body:    m.Body,
			Payload: m.Payload,
			Error:   m.Error,
		})
	case *Event:
		return json.Marshal(wireEvent{
			Type:    TypeEvent,
			Event:   m.Name,
			Payload: m.Payload,
		})
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrProtocol, msg)
	}
}

// DecodeFrame normalizes a raw transport payload to text and parses it.
// Accepted shapes: string, []byte, json.RawMessage, *bytes.Buffer and
// [][]byte (chunks joined in order). It never panics; every failure is a
// *ProtocolError.
func DecodeFrame(raw any) (Message, error) {
	data, err := normalizeFrame(raw)
	if err != nil {
		return nil, err
	}

	// Text frames are decoded leniently: invalid sequences become U+FFFD.
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte(string(utf8.RuneError)))
	}

	if !gjson.ValidBytes(data) {
		return nil, &ProtocolError{Reason: "invalid json"}
	}

	tag := gjson.GetBytes(data, "type")
	switch tag.String() {
	case TypeRequest:
		var w wireRequest
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Reason: "malformed request", Err: err}
		}

		return &Request{ID: w.ID, Method: w.Method, Params: w.Params}, nil

	case TypeResponse:
		var w wireResponse
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Reason: "malformed response", Err: err}
		}

		if w.ID == "" {
			return nil, &ProtocolError{Reason: "response without id"}
		}

		return &Response{
			ID:      w.ID,
			OK:      w.OK,
			Body:    w.Body,
			Payload: w.Payload,
			Error:   w.Error,
		}, nil

	case TypeEvent:
		var w wireEvent
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, &ProtocolError{Reason: "malformed event", Err: err}
		}

		if w.Event == "" {
			return nil, &ProtocolError{Reason: "event without name"}
		}

		return &Event{Name: w.Event, Payload: w.Payload}, nil

	default:
		if !tag.Exists() {
			return nil, &ProtocolError{Reason: "missing type"}
		}

		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown type %q", tag.String())}
	}
}

func normalizeFrame(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case *bytes.Buffer:
		if v == nil {
			break
		}

		return v.Bytes(), nil
	case [][]byte:
		return bytes.Join(v, nil), nil
	}

	return nil, &ProtocolError{
		Reason: fmt.Sprintf("frame of type %T", raw),
		Err:    ErrUnsupportedFrame,
	}
}
