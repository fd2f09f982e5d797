// Package remote is the HTTP adapter for external layout and vision
// extraction services.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/resilience"
)

// ExtractRequest is the body for POST /v1/extract/{method}.
type ExtractRequest struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type,omitempty"`
	Content    []byte `json:"content"`
	Text       string `json:"text,omitempty"`
}

// ExtractResponse is the extraction service reply.
type ExtractResponse struct {
	Text       string              `json:"text"`
	PageCount  int                 `json:"page_count"`
	Confidence float64             `json:"confidence"`
	Fields     []ExtractedKeyValue `json:"fields"`
}

// ExtractedKeyValue is one key/value pair found by the service.
type ExtractedKeyValue struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Page       int     `json:"page,omitempty"`
}

// APIError is returned when the service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extractor: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit limits outgoing requests per second across all methods.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithBreaker sets the breaker settings applied to each method's backend.
func WithBreaker(cfg resilience.BreakerConfig) Option {
	return func(c *Client) { c.breakers = resilience.NewBreakers(cfg) }
}

// Client calls the extraction service. It is safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	breakers *resilience.Breakers
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(5, 5),
		breakers: resilience.NewBreakers(resilience.DefaultBreakerConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract sends doc to the service for method. Client errors other than 408
// and 429 are permanent; the stage will not retry them.
func (c *Client) Extract(ctx context.Context, method model.ExtractionMethod, doc model.Document) (*model.Extraction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extractor: rate limit wait")
	}

	resp, err := resilience.Guard(ctx, c.breakers.For(string(method)), func(ctx context.Context) (*ExtractResponse, error) {
		var out ExtractResponse
		if err := c.post(ctx, "/v1/extract/"+string(method), ExtractRequest{
			DocumentID: doc.ID,
			FileName:   doc.FileName,
			MimeType:   doc.MimeType,
			Content:    doc.Content,
			Text:       doc.Text,
		}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: %s", method)
	}

	ex := &model.Extraction{
		Method:     method,
		Text:       resp.Text,
		PageCount:  resp.PageCount,
		Confidence: model.ClampConfidence(resp.Confidence),
		Fields:     make(map[string]model.ExtractedField, len(resp.Fields)),
	}
	for _, kv := range resp.Fields {
		if kv.Key == "" {
			continue
		}
		// Repeated keys keep the most confident value.
		if cur, ok := ex.Fields[kv.Key]; ok && cur.Confidence >= kv.Confidence {
			continue
		}
		ex.Fields[kv.Key] = model.ExtractedField{
			Name:       kv.Key,
			Value:      kv.Value,
			Confidence: model.ClampConfidence(kv.Confidence),
			Method:     method,
			Page:       kv.Page,
		}
	}
	zap.L().Debug("extractor: extraction complete",
		zap.String("document_id", doc.ID),
		zap.String("method", string(method)),
		zap.Int("fields", len(ex.Fields)),
	)
	return ex, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return resilience.Permanent(eris.Wrap(err, "marshal request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return resilience.Permanent(eris.Wrap(err, "create request"))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		if resp.StatusCode < 500 {
			return resilience.Permanent(apiErr)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}

// BreakerStatus reports the breaker of every method called so far.
func (c *Client) BreakerStatus() []resilience.BreakerStatus {
	return c.breakers.Status()
}
