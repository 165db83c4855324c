package actions

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/flowforge/pkg/schema"
)

// HTTPConfig configures the http.request step.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// Param helpers used by all step files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

const httpRequestConfigSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string", "minLength": 1},
    "headers": {"type": "object"},
    "body": {},
    "bodyEncoding": {"type": "string", "enum": ["json","form","text"], "default": "json"},
    "timeout": {"type": "string"},
    "followRedirects": {"type": "boolean", "default": true},
    "maxRedirects": {"type": "integer", "minimum": 0, "default": 10},
    "tlsSkipVerify": {"type": "boolean", "default": false},
    "failOnErrorStatus": {"type": "boolean", "default": false}
  },
  "required": ["url"]
}`

const httpRequestOutputSchema = `{
  "type": "object",
  "properties": {
    "statusCode": {"type": "integer"},
    "status": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "contentType": {"type": "string"},
    "durationMs": {"type": "integer"}
  }
}`

// HTTPRequestStep implements the "http.request" action type.
//
// Credentials, when the node has a credentialRef, are applied as auth:
// `token` as a bearer token, `username`/`password` as basic auth, or
// `headerName`/`headerValue` as an API key header.
type HTTPRequestStep struct {
	config HTTPConfig
}

// NewHTTPRequestStep creates a new http.request step.
func NewHTTPRequestStep(cfg HTTPConfig) *HTTPRequestStep {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequestStep{config: cfg}
}

func (s *HTTPRequestStep) Name() string { return "http.request" }

func (s *HTTPRequestStep) Schema() StepSchema {
	return StepSchema{
		Description:  "Execute an HTTP request with control over method, headers, body and redirects.",
		ConfigSchema: json.RawMessage(httpRequestConfigSchema),
		OutputSchema: json.RawMessage(httpRequestOutputSchema),
	}
}

func (s *HTTPRequestStep) Emitter() Emitter {
	return Emitter{Import: RuntimeModule, Function: "httpRequest"}
}

func (s *HTTPRequestStep) validate(config map[string]any) (string, error) {
	rawURL := stringParam(config, "url", "")
	if rawURL == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "http.request: missing required config 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "http.request: invalid url %q", rawURL)
	}
	return rawURL, nil
}

func (s *HTTPRequestStep) Execute(ctx context.Context, input StepInput) (*StepOutput, error) {
	config := input.Config
	if config == nil {
		config = map[string]any{}
	}

	rawURL, err := s.validate(config)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(stringParam(config, "method", "GET"))
	bodyEncoding := stringParam(config, "bodyEncoding", "json")
	followRedirects := boolParam(config, "followRedirects", true)
	maxRedirects := intParam(config, "maxRedirects", 10)
	tlsSkipVerify := boolParam(config, "tlsSkipVerify", false)
	failOnErrorStatus := boolParam(config, "failOnErrorStatus", false)

	timeout := s.config.DefaultTimeout
	if ts := stringParam(config, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	var contentType string
	if rawBody, ok := config["body"]; ok && rawBody != nil {
		switch bodyEncoding {
		case "form":
			formData, ok := rawBody.(map[string]any)
			if ok {
				vals := url.Values{}
				for k, v := range formData {
					vals.Set(k, fmt.Sprintf("%v", v))
				}
				bodyReader = strings.NewReader(vals.Encode())
				contentType = "application/x-www-form-urlencoded"
			}
		case "text":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", rawBody))
			contentType = "text/plain"
		default: // json
			b, err := json.Marshal(rawBody)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeStepFailed, "http.request: failed to marshal body as JSON").WithCause(err)
			}
			bodyReader = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "http.request: failed to create request").WithCause(err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hdrs, ok := config["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	applyAuth(req, input.Credentials)

	// A new client per request keeps per-node TLS and redirect settings isolated.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}

	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if maxRedirects > 0 {
		limit := maxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "http.request: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "http.request: failed to read response body").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) > 0 {
		parsedBody = string(bodyBytes)
		if strings.Contains(respContentType, "application/json") {
			var jsonBody any
			if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
				parsedBody = jsonBody
			}
		}
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"statusCode":  resp.StatusCode,
		"status":      resp.Status,
		"headers":     respHeaders,
		"body":        parsedBody,
		"contentType": respContentType,
		"durationMs":  durationMs,
	}

	if failOnErrorStatus && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "http.request: server returned %d", resp.StatusCode).
			WithDetails(map[string]any{"statusCode": resp.StatusCode, "retryable": resp.StatusCode >= 500})
	}

	return &StepOutput{Data: result}, nil
}

func applyAuth(req *http.Request, creds map[string]string) {
	if len(creds) == 0 {
		return
	}
	switch {
	case creds["token"] != "":
		req.Header.Set("Authorization", "Bearer "+creds["token"])
	case creds["username"] != "":
		req.SetBasicAuth(creds["username"], creds["password"])
	case creds["headerName"] != "":
		req.Header.Set(creds["headerName"], creds["headerValue"])
	}
}
