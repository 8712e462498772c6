package gatewayhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finbridge/payhub/internal/payment/domain"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Client is a thin JSON/form HTTP client shared by the REST adapters. It is
// safe for concurrent use and keeps no per-call state: every call returns its
// own Exchange for auditing.
type Client struct {
	provider domain.ProviderType
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	observer domain.CallObserver
}

func New(cfg domain.AdapterConfig, baseURL string) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     hc,
		limiter:  cfg.Limiter,
		observer: cfg.Observer,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) HTTPClient() *http.Client { return c.http }

type Request struct {
	Operation   string
	Method      string
	Path        string
	Query       url.Values
	JSON        any
	Form        url.Values
	Headers     map[string]string
	Username    string
	Password    string
	BearerToken string
}

// Exchange is the redacted request/response pair of one HTTP call.
type Exchange struct {
	StatusCode int
	Request    json.RawMessage
	Response   json.RawMessage
}

func (e Exchange) Audit() domain.Audit {
	return domain.Audit{Request: e.Request, Response: e.Response}
}

// Do sends req and decodes a 2xx JSON body into out when out is non-nil.
// Non-2xx responses return a *domain.ProviderError together with the
// exchange, so callers can still audit or inspect the status code.
func (c *Client) Do(ctx context.Context, req Request, out any) (Exchange, error) {
	var (
		body        io.Reader
		contentType string
		auditBody   any
	)
	switch {
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return Exchange{}, fmt.Errorf("encode %s request: %w", req.Operation, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
		auditBody = json.RawMessage(raw)
	case req.Form != nil:
		encoded := req.Form.Encode()
		body = strings.NewReader(encoded)
		contentType = "application/x-www-form-urlencoded"
		auditBody = formToMap(req.Form)
	}

	endpoint := c.baseURL + req.Path
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	exchange := Exchange{Request: auditJSON(map[string]any{
		"method": req.Method,
		"path":   req.Path,
		"query":  formToMap(req.Query),
		"body":   auditBody,
	})}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return exchange, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Username != "" || req.Password != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return exchange, &domain.ProviderError{Provider: c.provider, Operation: req.Operation, Message: err.Error()}
		}
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		perr := &domain.ProviderError{Provider: c.provider, Operation: req.Operation, Message: err.Error()}
		c.observe(req.Operation, 0, started, perr)
		return exchange, perr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		perr := &domain.ProviderError{Provider: c.provider, Operation: req.Operation, StatusCode: resp.StatusCode, Message: err.Error()}
		c.observe(req.Operation, resp.StatusCode, started, perr)
		return exchange, perr
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	exchange.StatusCode = resp.StatusCode
	exchange.Response = responseJSON(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, msg := extractError(raw)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		perr := &domain.ProviderError{
			Provider:   c.provider,
			Operation:  req.Operation,
			StatusCode: resp.StatusCode,
			Code:       code,
			Message:    msg,
		}
		c.observe(req.Operation, resp.StatusCode, started, perr)
		return exchange, perr
	}
	c.observe(req.Operation, resp.StatusCode, started, nil)

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return exchange, fmt.Errorf("%w: decode %s %s response: %v", domain.ErrProviderCall, c.provider, req.Operation, err)
		}
	}
	return exchange, nil
}

func (c *Client) observe(operation string, status int, started time.Time, err error) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveProviderCall(string(c.provider), operation, status, time.Since(started), err)
}

// StatusCode extracts the HTTP status from a provider error, or 0.
func StatusCode(err error) int {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr.StatusCode
	}
	return 0
}

func ErrorCode(err error) string {
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}

// ErrorMessage returns the provider's own message when err is a provider
// error, and err.Error() otherwise.
func ErrorMessage(err error) string {
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	return err.Error()
}

func formToMap(values url.Values) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		out[k] = v
	}
	return out
}

func responseJSON(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return Redact(trimmed)
	}
	return auditJSON(map[string]any{"raw": string(trimmed)})
}

func auditJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return Redact(raw)
}
