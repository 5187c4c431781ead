package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/oliveagle/jsonpath"
	"github.com/samber/lo"

	"github.com/dandantas/lms-worker/internal/model"
)

// HTTPConfig configures an HTTPClient
type HTTPConfig struct {
	BaseURL      string
	SearchPath   string
	CreatePath   string
	UpdatePath   string
	ResultsPath  string // JSONPath locating the search results array
	AuthToken    string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTPClient is a Client for services speaking the platform's
// {"request": ...} / {"result": ...} JSON envelope
type HTTPClient struct {
	cfg     HTTPConfig
	results *jsonpath.Compiled
	http    *retryablehttp.Client
}

// NewHTTPClient creates a resource client. Transport-level retries (connection
// errors, 5xx, 429) happen here and nowhere else.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.ResultsPath == "" {
		cfg.ResultsPath = "$.result.response"
	}
	results, err := jsonpath.Compile(cfg.ResultsPath)
	if err != nil {
		return nil, fmt.Errorf("invalid results path '%s': %w", cfg.ResultsPath, err)
	}
	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = 100 * time.Millisecond
	}
	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = 5 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &HTTPClient{
		cfg:     cfg,
		results: results,
		http:    rc,
	}, nil
}

// Search handles POST {SearchPath} with {"request": {"filters": ...}}
func (c *HTTPClient) Search(ctx context.Context, filters map[string]any) ([]model.Record, error) {
	body, err := c.do(ctx, OpSearch, http.MethodPost, c.cfg.SearchPath, map[string]any{"filters": filters})
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &Error{Op: OpSearch, Code: "INVALID_RESPONSE", Message: "response is not JSON", Err: err}
	}

	found, err := c.results.Lookup(doc)
	if err != nil {
		return nil, &Error{Op: OpSearch, Code: "INVALID_RESPONSE", Message: fmt.Sprintf("results path '%s' not found", c.cfg.ResultsPath), Err: err}
	}
	if found == nil {
		return []model.Record{}, nil
	}

	items, ok := found.([]any)
	if !ok {
		return nil, &Error{Op: OpSearch, Code: "INVALID_RESPONSE", Message: fmt.Sprintf("results path '%s' is not a list", c.cfg.ResultsPath)}
	}

	records := lo.FilterMap(items, func(item any, _ int) (model.Record, bool) {
		m, ok := item.(map[string]any)
		return model.Record(m), ok
	})
	return records, nil
}

// Create handles POST {CreatePath} with {"request": fields}
func (c *HTTPClient) Create(ctx context.Context, fields model.Row) (model.Record, error) {
	body, err := c.do(ctx, OpCreate, http.MethodPost, c.cfg.CreatePath, fields)
	if err != nil {
		return nil, err
	}
	return resultRecord(OpCreate, body)
}

// Update handles PATCH {UpdatePath} with {"request": fields + id}
func (c *HTTPClient) Update(ctx context.Context, id string, fields model.Row) (model.Record, error) {
	if id == "" {
		return nil, &Error{Op: OpUpdate, Code: "INVALID_REQUEST", Message: "resource id is required"}
	}
	body, err := c.do(ctx, OpUpdate, http.MethodPatch, c.cfg.UpdatePath, fields.With("id", id))
	if err != nil {
		return nil, err
	}
	record, err := resultRecord(OpUpdate, body)
	if err != nil {
		return nil, err
	}
	if record.ID() == "" {
		record = model.Record(model.Row(record).With("id", id))
	}
	return record, nil
}

// do sends one enveloped request and returns the body of a 2xx response
func (c *HTTPClient) do(ctx context.Context, op, method, path string, request any) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{"request": request})
	if err != nil {
		return nil, &Error{Op: op, Code: "INVALID_REQUEST", Message: "failed to marshal request", Err: err}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Op: op, Code: "INVALID_REQUEST", Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	slog.Debug("Calling resource service",
		"operation", op,
		"method", method,
		"url", url,
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	// Limit to 4MB
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromResponse(op, resp.StatusCode, body)
	}
	return body, nil
}

// serviceResponse is the error-carrying part of the response envelope
type serviceResponse struct {
	ResponseCode string `json:"responseCode"`
	Params       struct {
		Err    string `json:"err"`
		ErrMsg string `json:"errmsg"`
	} `json:"params"`
}

func errorFromResponse(op string, statusCode int, body []byte) *Error {
	e := &Error{
		Op:         op,
		StatusCode: statusCode,
		Message:    http.StatusText(statusCode),
	}

	var sr serviceResponse
	if err := json.Unmarshal(body, &sr); err == nil {
		if sr.Params.Err != "" {
			e.Code = sr.Params.Err
		} else {
			e.Code = sr.ResponseCode
		}
		if sr.Params.ErrMsg != "" {
			e.Message = sr.Params.ErrMsg
		}
	}
	return e
}

func resultRecord(op string, body []byte) (model.Record, error) {
	var envelope struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &Error{Op: op, Code: "INVALID_RESPONSE", Message: "response is not JSON", Err: err}
	}
	if envelope.Result == nil {
		return model.Record{}, nil
	}
	return model.Record(envelope.Result), nil
}
