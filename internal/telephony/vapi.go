package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voicedesk/internal/calls"
	"voicedesk/pkg/utils"
)

const (
	defaultModelProvider = "openai"
	defaultModel         = "gpt-4o-mini"
	defaultVoiceProvider = "11labs"
)

type VapiOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Retry      utils.RetryPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// VapiProvider talks to the hosted voice-call API over bearer-authenticated REST.
type VapiProvider struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	retry   utils.RetryPolicy
	http    *http.Client
	log     *slog.Logger
}

func NewVapiProvider(o VapiOptions) (*VapiProvider, error) {
	if o.BaseURL == "" || o.APIKey == "" {
		return nil, errors.New("telephony: base url and api key are required")
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &VapiProvider{
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		apiKey:  o.APIKey,
		timeout: o.Timeout,
		retry:   o.Retry,
		http:    o.HTTPClient,
		log:     o.Logger,
	}, nil
}

func (p *VapiProvider) Name() string { return "vapi" }

func (p *VapiProvider) HealthCheck(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodGet, "/assistant?limit=1", nil)
	return err
}

func (p *VapiProvider) ListCalls(ctx context.Context, limit int) ([]calls.Call, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return p.listCalls(ctx, q)
}

// ListCallsByAgent lists the calls handled by one assistant.
func (p *VapiProvider) ListCallsByAgent(ctx context.Context, agentID string) ([]calls.Call, error) {
	if agentID == "" {
		return nil, ErrInvalidSpec
	}
	q := url.Values{}
	q.Set("agent_id", agentID)
	out, err := p.listCalls(ctx, q)
	if err != nil {
		return nil, err
	}
	// Drop rows for other assistants in case the filter is not honored remotely.
	kept := out[:0]
	for _, c := range out {
		if c.AssistantID == "" || c.AssistantID == agentID {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func (p *VapiProvider) listCalls(ctx context.Context, q url.Values) ([]calls.Call, error) {
	path := "/call"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	body, err := p.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	out, err := decodeList[calls.Call](body)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Duration <= 0 {
			out[i].Duration = out[i].EffectiveDuration()
		}
	}
	return out, nil
}

type assistantPayload struct {
	Name         string       `json:"name"`
	FirstMessage string       `json:"firstMessage,omitempty"`
	Model        modelPayload `json:"model"`
	Voice        voicePayload `json:"voice"`
}

type modelPayload struct {
	Provider string           `json:"provider"`
	Model    string           `json:"model"`
	Messages []messagePayload `json:"messages"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type voicePayload struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

func (p *VapiProvider) CreateAssistant(ctx context.Context, spec AssistantSpec) (Assistant, error) {
	if strings.TrimSpace(spec.Name) == "" || spec.VoiceID == "" {
		return Assistant{}, ErrInvalidSpec
	}
	payload := assistantPayload{
		Name:         spec.Name,
		FirstMessage: spec.FirstMessage,
		Model: modelPayload{
			Provider: orDefault(spec.ModelProvider, defaultModelProvider),
			Model:    orDefault(spec.Model, defaultModel),
			Messages: []messagePayload{{Role: "system", Content: spec.Prompt}},
		},
		Voice: voicePayload{
			Provider: orDefault(spec.VoiceProvider, defaultVoiceProvider),
			VoiceID:  spec.VoiceID,
		},
	}
	body, err := p.do(ctx, http.MethodPost, "/assistant", payload)
	if err != nil {
		return Assistant{}, err
	}
	a, err := decodeEnvelope[Assistant](body)
	if err != nil {
		return Assistant{}, err
	}
	if a.ID == "" {
		return Assistant{}, ErrMissingID
	}
	return a, nil
}

func (p *VapiProvider) DeleteAssistant(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidSpec
	}
	_, err := p.do(ctx, http.MethodDelete, "/assistant/"+url.PathEscape(id), nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (p *VapiProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	body, err := p.do(ctx, http.MethodGet, "/voice", nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Voice](body)
}

// do sends one request, retrying transport errors, 429 and 5xx.
func (p *VapiProvider) do(ctx context.Context, method, path string, in any) ([]byte, error) {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("telephony: encode request: %w", err)
		}
		payload = b
	}

	var body []byte
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(reqCtx, method, p.baseURL+path, reqBody)
		if err != nil {
			return utils.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			if apiErr.Retryable() {
				return apiErr
			}
			return utils.Permanent(apiErr)
		}
		body = b
		return nil
	}

	start := time.Now()
	err := utils.Retry(ctx, p.retry, op, func(err error, wait time.Duration) {
		p.log.WarnContext(ctx, "call api retry", "method", method, "path", pathOnly(path), "wait", wait, "err", err)
	})
	if err != nil {
		p.log.ErrorContext(ctx, "call api request failed", "method", method, "path", pathOnly(path), "duration_ms", time.Since(start).Milliseconds(), "err", err)
		return nil, err
	}
	p.log.DebugContext(ctx, "call api request", "method", method, "path", pathOnly(path), "duration_ms", time.Since(start).Milliseconds())
	return body, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func pathOnly(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
