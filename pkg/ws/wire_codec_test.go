package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeFrame_Shapes(t *testing.T) {
	const frame = `{"type":"event","event":"tick","payload":{"n":1}}`

	shapes := map[string]any{
		"string":      frame,
		"bytes":       []byte(frame),
		"raw message": json.RawMessage(frame),
		"buffer":      bytes.NewBufferString(frame),
		"chunks": [][]byte{
			[]byte(`{"type":"event",`),
			[]byte(`"event":"tick",`),
			[]byte(`"payload":{"n":1}}`),
		},
	}

	for name, raw := range shapes {
		t.Run(name, func(t *testing.T) {
			msg, err := DecodeFrame(raw)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}

			ev, ok := msg.(*Event)
			if !ok {
				t.Fatalf("expected *Event, got %T", msg)
			}

			if ev.Name != "tick" || string(ev.Payload) != `{"n":1}` {
				t.Errorf("unexpected event: %+v", ev)
			}
		})
	}
}

func TestDecodeFrame_ChunksMatchText(t *testing.T) {
	const frame = `{"type":"res","id":"a","ok":true,"body":{"x":[1,2,3]}}`

	chunks := [][]byte{[]byte(frame[:7]), []byte(frame[7:20]), []byte(frame[20:])}

	fromText, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("decode text: %v", err)
	}

	fromChunks, err := DecodeFrame(chunks)
	if err != nil {
		t.Fatalf("decode chunks: %v", err)
	}

	a := fromText.(*Response)
	b := fromChunks.(*Response)

	if a.ID != b.ID || a.OK != b.OK || string(a.Body) != string(b.Body) {
		t.Errorf("chunked decode differs: %+v vs %+v", a, b)
	}
}

func TestDecodeFrame_Kinds(t *testing.T) {
	req, err := DecodeFrame(`{"type":"req","id":"1","method":"ping","params":{}}`)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}

	if r, ok := req.(*Request); !ok || r.Method != "ping" || r.ID != "1" {
		t.Errorf("unexpected request: %#v", req)
	}

	res, err := DecodeFrame(`{"type":"res","id":"1","ok":false,"error":{"message":"nope"}}`)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}

	r, ok := res.(*Response)
	if !ok {
		t.Fatalf("expected *Response, got %T", res)
	}

	if r.OK || r.Error == nil || r.Error.Message != "nope" {
		t.Errorf("unexpected response: %+v", r)
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		raw         any
		unsupported bool
	}{
		{name: "not json", raw: "not json"},
		{name: "truncated", raw: `{"type":"res"`},
		{name: "missing type", raw: `{"id":"1"}`},
		{name: "unknown type", raw: `{"type":"ping"}`},
		{name: "response without id", raw: `{"type":"res","ok":true}`},
		{name: "event without name", raw: `{"type":"event","payload":{}}`},
		{name: "bare string with invalid utf-8", raw: []byte{'"', 0xff, '"'}},
		{name: "wrong field type", raw: `{"type":"res","id":1,"ok":true}`},
		{name: "integer frame", raw: 42, unsupported: true},
		{name: "nil frame", raw: nil, unsupported: true},
		{name: "nil buffer", raw: (*bytes.Buffer)(nil), unsupported: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeFrame(tt.raw)
			if err == nil {
				t.Fatalf("expected error, got %#v", msg)
			}

			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ProtocolError, got %T", err)
			}

			if !errors.Is(err, ErrProtocol) {
				t.Error("expected error to match ErrProtocol")
			}

			if got := errors.Is(err, ErrUnsupportedFrame); got != tt.unsupported {
				t.Errorf("ErrUnsupportedFrame match = %v, want %v", got, tt.unsupported)
			}
		})
	}
}

func TestDecodeFrame_ReplacesInvalidUTF8(t *testing.T) {
	raw := []byte(`{"type":"event","event":"chat","payload":{"text":"a` + "\xff" + `b"}}`)

	msg, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	ev, ok := msg.(*Event)
	if !ok {
		t.Fatalf("expected event, got %T", msg)
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}

	if payload.Text != "a\uFFFDb" {
		t.Errorf("expected replacement character, got %q", payload.Text)
	}
}

func TestEncodeMessage_RoundTrip(t *testing.T) {
	req, err := NewRequest("id-1", "chat.send", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	data, err := EncodeMessage(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	want := `{"type":"req","id":"id-1","method":"chat.send","params":{}}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}

	resp, err := NewResponse("id-1", map[string]int{"result": 42})
	if err != nil {
		t.Fatalf("new response: %v", err)
	}

	data, err = EncodeMessage(resp)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	want = `{"type":"res","id":"id-1","ok":true,"body":{"result":42}}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}

	failed, err := EncodeMessage(NewErrorResponse("id-2", nil))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	want = `{"type":"res","id":"id-2","ok":false}`
	if string(failed) != want {
		t.Errorf("expected %s, got %s", want, failed)
	}
}

func TestResponse_Result(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{name: "body", resp: Response{Body: json.RawMessage(`{"a":1}`)}, want: `{"a":1}`},
		{name: "payload fallback", resp: Response{Payload: json.RawMessage(`[1]`)}, want: `[1]`},
		{name: "body wins", resp: Response{Body: json.RawMessage(`1`), Payload: json.RawMessage(`2`)}, want: `1`},
		{name: "null body", resp: Response{Body: json.RawMessage(`null`), Payload: json.RawMessage(`2`)}, want: `2`},
		{name: "empty", resp: Response{}, want: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(tt.resp.Result()); got != tt.want {
				t.Errorf("Result() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarshalParams_Empty(t *testing.T) {
	var typedNil *struct{ A int }

	for _, params := range []any{nil, json.RawMessage(nil), json.RawMessage("null"), typedNil} {
		raw, err := marshalParams(params)
		if err != nil {
			t.Fatalf("marshal %T: %v", params, err)
		}

		if string(raw) != "{}" {
			t.Errorf("marshal %T = %s, want {}", params, raw)
		}
	}
}
