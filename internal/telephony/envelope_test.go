package telephony

import (
	"errors"
	"testing"

	"voicedesk/internal/calls"
)

func TestDecodeList_AcceptsBareAndEnvelope(t *testing.T) {
	for name, body := range map[string]string{
		"bare":     `[{"id":"c1","status":"ended"},{"id":"c2"}]`,
		"envelope": `{"data":[{"id":"c1","status":"ended"},{"id":"c2"}]}`,
	} {
		got, err := decodeList[calls.Call]([]byte(body))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(got) != 2 || got[0].ID != "c1" || got[0].Status != calls.CallStatusEnded {
			t.Fatalf("%s: unexpected %+v", name, got)
		}
	}
}

func TestDecodeList_RejectsNonArray(t *testing.T) {
	for _, body := range []string{
		`{"message":"unauthorized"}`,
		`{"data":{"id":"c1"}}`,
		`null`,
		``,
		`"nope"`,
	} {
		if _, err := decodeList[calls.Call]([]byte(body)); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("body %q: expected ErrMalformedResponse, got %v", body, err)
		}
	}
}

func TestDecodeEnvelope_Object(t *testing.T) {
	for _, body := range []string{`{"id":"a1","name":"Ava"}`, `{"data":{"id":"a1","name":"Ava"}}`} {
		a, err := decodeEnvelope[Assistant]([]byte(body))
		if err != nil || a.ID != "a1" || a.Name != "Ava" {
			t.Fatalf("body %q: got %+v %v", body, a, err)
		}
	}
}
