package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ScoreService is the seam to the external asynchronous scorer. Submit
// acknowledges receipt only; results arrive later through Poll, which may
// legitimately return nothing for a while.
type ScoreService interface {
	Submit(ctx context.Context, trace *Trace) error
	Flush(ctx context.Context) error
	Poll(ctx context.Context, traceName string) (map[string]float64, error)
	ConsoleURL(traceName string) string
}

// HTTPService talks to an HTTP scorer. The credential is an explicit value
// on the client, scoped to this instance; it is never placed in ambient
// process state.
type HTTPService struct {
	BaseURL string
	APIKey  string
	Project string
	Stream  string

	client *http.Client
}

var _ ScoreService = (*HTTPService)(nil)

// NewHTTPService builds a scorer client for one project/log-stream pair.
func NewHTTPService(baseURL, apiKey, project, stream string) *HTTPService {
	return &HTTPService{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Project: project,
		Stream:  stream,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPService) Submit(ctx context.Context, trace *Trace) error {
	path := fmt.Sprintf("/projects/%s/streams/%s/traces", s.Project, s.Stream)
	return s.post(ctx, path, trace, nil)
}

func (s *HTTPService) Flush(ctx context.Context) error {
	path := fmt.Sprintf("/projects/%s/streams/%s/flush", s.Project, s.Stream)
	return s.post(ctx, path, nil, nil)
}

// pollRequest filters traces by exact name; the scorer indexes traces
// asynchronously, so an empty result set is not an error.
type pollRequest struct {
	Filters []pollFilter `json:"filters"`
	Limit   int          `json:"limit"`
}

type pollFilter struct {
	ColumnID string `json:"columnId"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Type     string `json:"type"`
}

// traceRecord is the loosely-typed shape the scorer returns; metric values
// may be numbers or strings depending on the scorer version.
type traceRecord struct {
	Name    string         `mapstructure:"name"`
	Metrics map[string]any `mapstructure:"metrics"`
}

func (s *HTTPService) Poll(ctx context.Context, traceName string) (map[string]float64, error) {
	req := pollRequest{
		Filters: []pollFilter{{
			ColumnID: "name",
			Operator: "eq",
			Value:    traceName,
			Type:     "text",
		}},
		Limit: 1,
	}

	var body struct {
		Records []map[string]any `json:"records"`
	}
	path := fmt.Sprintf("/projects/%s/traces/search", s.Project)
	if err := s.post(ctx, path, req, &body); err != nil {
		return nil, err
	}
	if len(body.Records) == 0 {
		return nil, nil
	}

	var record traceRecord
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &record,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(body.Records[0]); err != nil {
		return nil, fmt.Errorf("decoding trace record: %w", err)
	}

	return NumericMetrics(record.Metrics), nil
}

func (s *HTTPService) ConsoleURL(traceName string) string {
	return fmt.Sprintf("%s/project/%s/traces/%s", s.BaseURL, s.Project, traceName)
}

func (s *HTTPService) post(ctx context.Context, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("scorer %s: status %d: %.300s", path, resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding scorer response: %w", err)
		}
	}
	return nil
}

// NumericMetrics keeps only the numeric entries of a raw metric map.
func NumericMetrics(raw map[string]any) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case float32:
			out[k] = float64(n)
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case json.Number:
			if f, err := n.Float64(); err == nil {
				out[k] = f
			}
		}
	}
	return out
}
