package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"voicedesk/pkg/utils"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *VapiProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := NewVapiProvider(VapiOptions{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Retry:   utils.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestListCalls_SendsBearerAndLimit(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/call" || r.URL.Query().Get("limit") != "100" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"c1","status":"ended","startedAt":"2024-05-01T10:00:00Z","endedAt":"2024-05-01T10:01:00Z"}]}`))
	})

	got, err := p.ListCalls(context.Background(), 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Duration != 60 {
		t.Fatalf("expected one call with derived duration, got %+v", got)
	}
}

func TestListCalls_MalformedBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"calls":"soon"}`))
	})
	if _, err := p.ListCalls(context.Background(), 10); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestListCalls_RetriesServerErrors(t *testing.T) {
	var n atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	got, err := p.ListCalls(context.Background(), 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty list after retries, got %v %v", got, err)
	}
	if n.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", n.Load())
	}
}

func TestListCalls_ClientErrorNotRetried(t *testing.T) {
	var n atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid Key"}`))
	})
	_, err := p.ListCalls(context.Background(), 5)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if n.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", n.Load())
	}
}

func TestListCallsByAgent_FiltersOtherAssistants(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("agent_id") != "a1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"c1","assistantId":"a1"},{"id":"c2","assistantId":"a2"}]`))
	})
	got, err := p.ListCallsByAgent(context.Background(), "a1")
	if err != nil || len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("expected only a1 calls, got %+v %v", got, err)
	}
}

func TestCreateAssistant_PayloadAndID(t *testing.T) {
	var got assistantPayload
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/assistant" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"asst_1","name":"Ava"}`))
	})

	a, err := p.CreateAssistant(context.Background(), AssistantSpec{
		Name: "Ava", Prompt: "Be brief.", VoiceID: "rachel", FirstMessage: "Hi!",
	})
	if err != nil || a.ID != "asst_1" {
		t.Fatalf("create: %+v %v", a, err)
	}
	if got.Model.Provider != defaultModelProvider || len(got.Model.Messages) != 1 || got.Model.Messages[0].Role != "system" || got.Model.Messages[0].Content != "Be brief." {
		t.Fatalf("unexpected model payload %+v", got.Model)
	}
	if got.Voice.VoiceID != "rachel" || got.Voice.Provider != defaultVoiceProvider || got.FirstMessage != "Hi!" {
		t.Fatalf("unexpected voice payload %+v", got)
	}
}

func TestCreateAssistant_MissingID(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"name":"Ava"}}`))
	})
	if _, err := p.CreateAssistant(context.Background(), AssistantSpec{Name: "Ava", VoiceID: "v"}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
}

func TestCreateAssistant_RejectsInvalidSpec(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	if _, err := p.CreateAssistant(context.Background(), AssistantSpec{Name: " "}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestDeleteAssistant_NotFoundIsSuccess(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/assistant/asst_1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	if err := p.DeleteAssistant(context.Background(), "asst_1"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestListVoices_Envelope(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"v1","name":"Rachel","provider":"11labs"}]}`))
	})
	got, err := p.ListVoices(context.Background())
	if err != nil || len(got) != 1 || got[0].Name != "Rachel" {
		t.Fatalf("unexpected voices %+v %v", got, err)
	}
}
