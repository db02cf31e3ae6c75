package rcbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"golang.org/x/sync/errgroup"
)

// endpointVerbs are the recognized microservice endpoint prefixes.
// Endpoints without one of these prefixes are legacy endpoints and fold
// into the single aggregate call.
var endpointVerbs = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	// BaseURL prefixes every microservice path and the aggregate path.
	BaseURL string

	// AggregatePath is where the legacy aggregate POST goes.
	// Default: "/batch".
	AggregatePath string

	// Headers are attached to every outgoing request.
	Headers map[string]string
}

// DefaultHTTPConfig returns an HTTPConfig with sensible defaults.
// BaseURL has no default and must be supplied by the caller.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{AggregatePath: "/batch"}
}

// Validate checks whether the configuration values are valid.
func (c HTTPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.AggregatePath, validation.Required),
	)
}

// HTTPTransport dispatches one round of calls as concurrent HTTP
// requests: every verb-prefixed endpoint becomes an individually
// addressable request, all legacy endpoints fold into exactly one
// aggregate POST. All requests of a round are awaited jointly; a slow
// or failed request does not cancel its siblings.
type HTTPTransport struct {
	cfg    HTTPConfig
	client *http.Client
	log    *slog.Logger
}

// HTTPOption customizes an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = client }
}

// WithHTTPLogger sets the logger used for diagnostic output.
func WithHTTPLogger(log *slog.Logger) HTTPOption {
	return func(t *HTTPTransport) { t.log = log }
}

// NewHTTPTransport creates the transport, validating its configuration.
func NewHTTPTransport(cfg HTTPConfig, opts ...HTTPOption) (*HTTPTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &HTTPTransport{
		cfg:    cfg,
		client: http.DefaultClient,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// rawResult is one awaited response body before the decode step.
type rawResult struct {
	endpoint  string
	id        string
	body      []byte
	aggregate bool
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, calls []*Call, timeout time.Duration) (ResponseSet, error) {
	var micro []*Call
	aggregateBody := map[string][]map[string]any{}
	for _, call := range calls {
		if _, _, ok := splitEndpoint(call.Endpoint); ok {
			micro = append(micro, call)
			continue
		}
		aggregateBody[call.Endpoint] = append(aggregateBody[call.Endpoint], callEntry(call))
	}

	results := make([]rawResult, 0, len(micro)+1)
	var mu sync.Mutex
	var g errgroup.Group

	for _, call := range micro {
		call := call
		g.Go(func() error {
			body, err := t.doMicro(ctx, call, timeout)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, rawResult{endpoint: call.Endpoint, id: call.ID, body: body})
			mu.Unlock()
			return nil
		})
	}

	if len(aggregateBody) > 0 {
		g.Go(func() error {
			body, err := t.doAggregate(ctx, aggregateBody, timeout)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, rawResult{endpoint: MonolithEndpoint, body: body, aggregate: true})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return decodeResults(results)
}

// doMicro issues one individually-addressable request.
func (t *HTTPTransport) doMicro(ctx context.Context, call *Call, timeout time.Duration) ([]byte, error) {
	method, path, _ := splitEndpoint(call.Endpoint)

	payload, err := json.Marshal(callEntry(call))
	if err != nil {
		return nil, fmt.Errorf("rcbatch: encoding call %s%s%s: %w", call.Endpoint, "|", call.ID, err)
	}
	return t.request(ctx, method, t.cfg.BaseURL+path, payload, callTimeout(call, timeout))
}

// doAggregate issues the single legacy aggregate POST.
func (t *HTTPTransport) doAggregate(ctx context.Context, body map[string][]map[string]any, timeout time.Duration) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("rcbatch: encoding aggregate call: %w", err)
	}
	return t.request(ctx, http.MethodPost, t.cfg.BaseURL+t.cfg.AggregatePath, payload, timeout)
}

func (t *HTTPTransport) request(ctx context.Context, method, url string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rcbatch: %s %s returned status %d", method, url, resp.StatusCode)
	}
	return body, nil
}

// decodeResults validates every awaited body and demultiplexes the
// aggregate response into the per-endpoint/per-id shape. The first
// decode failure aborts processing of the remaining bodies.
func decodeResults(results []rawResult) (ResponseSet, error) {
	out := ResponseSet{}
	for _, res := range results {
		if err := checkBody(res.endpoint, res.body); err != nil {
			return nil, err
		}
		if !res.aggregate {
			if out[res.endpoint] == nil {
				out[res.endpoint] = map[string]json.RawMessage{}
			}
			out[res.endpoint][res.id] = json.RawMessage(res.body)
			continue
		}

		var nested map[string]map[string]json.RawMessage
		if err := json.Unmarshal(res.body, &nested); err != nil {
			return nil, fmt.Errorf("rcbatch: malformed aggregate response: %w", err)
		}
		for endpoint, byID := range nested {
			if out[endpoint] == nil {
				out[endpoint] = map[string]json.RawMessage{}
			}
			for id, body := range byID {
				if err := checkBody(endpoint, body); err != nil {
					return nil, err
				}
				out[endpoint][id] = body
			}
		}
	}
	return out, nil
}

// checkBody rejects bodies that are not valid JSON or that carry a
// top-level error field.
func checkBody(endpoint string, body []byte) error {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("rcbatch: malformed response body for endpoint %q: %w", endpoint, err)
	}
	if obj, ok := decoded.(map[string]any); ok {
		if errVal, present := obj["error"]; present {
			return fmt.Errorf("rcbatch: endpoint %q returned error: %v", endpoint, errVal)
		}
	}
	return nil
}

// callEntry builds the wire entry for one call: the shared context,
// the per-item params and the correlation id.
func callEntry(call *Call) map[string]any {
	entry := MergeParams(call.GeneralParams, call.Params)
	entry["id"] = call.ID
	return entry
}

// callTimeout picks the effective timeout for one request: the call's
// own timeout when set, the round default otherwise.
func callTimeout(call *Call, fallback time.Duration) time.Duration {
	if call.Timeout > 0 {
		return call.Timeout
	}
	return fallback
}

// splitEndpoint separates a verb-prefixed microservice endpoint into
// method and path. ok is false for legacy endpoints.
func splitEndpoint(endpoint string) (method, path string, ok bool) {
	verb, rest, found := strings.Cut(endpoint, ":")
	if !found || !endpointVerbs[verb] {
		return "", "", false
	}
	return verb, rest, true
}
