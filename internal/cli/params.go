package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// BuildParams turns a JSON5 document and key=value assignments into request
// params. Keys are sjson paths; a value that is valid JSON is set as is,
// anything else as a string.
func BuildParams(doc string, assignments []string) (json.RawMessage, error) {
	data := []byte("{}")

	if doc = strings.TrimSpace(doc); doc != "" {
		var v any
		if err := json5.Unmarshal([]byte(doc), &v); err != nil {
			return nil, fmt.Errorf("parse params: %w", err)
		}

		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
	}

	for _, a := range assignments {
		key, value, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid assignment %q: want key=value", a)
		}

		key = strings.TrimSpace(key)

		var err error
		if gjson.Valid(value) {
			data, err = sjson.SetRawBytes(data, key, []byte(value))
		} else {
			data, err = sjson.SetBytes(data, key, value)
		}

		if err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}

	return data, nil
}

// splitCallArgs separates an optional params document from key=value
// assignments. Only an argument starting with { or [ is a document.
func splitCallArgs(args []string) (doc string, assignments []string, err error) {
	for _, a := range args {
		trimmed := strings.TrimSpace(a)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			if doc != "" {
				return "", nil, fmt.Errorf("more than one params document")
			}

			doc = trimmed

			continue
		}

		assignments = append(assignments, a)
	}

	return doc, assignments, nil
}

// selectField returns the gjson path of body, or body itself for an empty
// path.
func selectField(body json.RawMessage, path string) (json.RawMessage, error) {
	if path == "" {
		return body, nil
	}

	res := gjson.GetBytes(body, path)
	if !res.Exists() {
		return nil, fmt.Errorf("field %q not found in result", path)
	}

	return json.RawMessage(res.Raw), nil
}

// eventLine renders one watched event as a JSON line.
func eventLine(event string, payload json.RawMessage) ([]byte, error) {
	line, err := sjson.SetBytes([]byte("{}"), "event", event)
	if err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	return sjson.SetRawBytes(line, "payload", payload)
}
