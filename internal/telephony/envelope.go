package telephony

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// unwrapEnvelope returns the payload of {"data": T} or the body itself.
func unwrapEnvelope(body []byte) []byte {
	b := bytes.TrimSpace(body)
	if len(b) == 0 || b[0] != '{' {
		return b
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(b, &env); err != nil {
		return b
	}
	if data, ok := env["data"]; ok {
		d := bytes.TrimSpace(data)
		if len(d) > 0 && !bytes.Equal(d, []byte("null")) {
			return d
		}
	}
	return b
}

// decodeEnvelope decodes a bare T or {"data": T}.
func decodeEnvelope[T any](body []byte) (T, error) {
	var out T
	if err := json.Unmarshal(unwrapEnvelope(body), &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// decodeList is decodeEnvelope for list endpoints; anything but a JSON array
// after unwrapping is malformed.
func decodeList[T any](body []byte) ([]T, error) {
	b := unwrapEnvelope(body)
	if len(b) == 0 || b[0] != '[' {
		return nil, fmt.Errorf("%w: expected array", ErrMalformedResponse)
	}
	return decodeEnvelope[[]T](b)
}
