package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/pkg/schema"
)

func httpStep() *HTTPRequestStep {
	return NewHTTPRequestStep(HTTPConfig{})
}

func execHTTP(t *testing.T, step Step, config map[string]any, creds map[string]string) (map[string]any, error) {
	t.Helper()
	out, err := step.Execute(context.Background(), StepInput{NodeID: "H", Config: config, Credentials: creds})
	if err != nil {
		return nil, err
	}
	result, ok := out.Data.(map[string]any)
	require.True(t, ok)
	return result, nil
}

func requireCode(t *testing.T, err error, code string) *schema.FlowError {
	t.Helper()
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr), "expected FlowError, got %T", err)
	assert.Equal(t, code, flowErr.Code)
	return flowErr
}

func TestHTTPRequest_GET_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Custom", "test-value")
		json.NewEncoder(w).Encode(map[string]any{"greeting": "hello", "count": 42})
	}))
	defer srv.Close()

	result, err := execHTTP(t, httpStep(), map[string]any{"url": srv.URL}, nil)
	require.NoError(t, err)

	assert.Equal(t, 200, result["statusCode"])
	assert.Contains(t, result["contentType"], "application/json")
	assert.GreaterOrEqual(t, result["durationMs"], int64(0))

	body, ok := result["body"].(map[string]any)
	require.True(t, ok, "body should be parsed map")
	assert.Equal(t, "hello", body["greeting"])

	hdrs, ok := result["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test-value", hdrs["X-Custom"])
}

func TestHTTPRequest_POST_JSONBody(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpStep(), map[string]any{
		"url":    srv.URL,
		"method": "post",
		"body":   map[string]any{"name": "test", "value": 123},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", received["name"])
	assert.Equal(t, float64(123), received["value"])
}

func TestHTTPRequest_FormAndTextBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.Header.Get("Content-Type"), "x-www-form-urlencoded"):
			r.ParseForm()
			assert.Equal(t, "bar", r.FormValue("foo"))
			assert.Equal(t, "42", r.FormValue("num"))
		case strings.Contains(r.Header.Get("Content-Type"), "text/plain"):
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "hello world", string(body))
		default:
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpStep(), map[string]any{
		"url": srv.URL, "method": "POST", "bodyEncoding": "form",
		"body": map[string]any{"foo": "bar", "num": 42},
	}, nil)
	require.NoError(t, err)

	_, err = execHTTP(t, httpStep(), map[string]any{
		"url": srv.URL, "method": "POST", "bodyEncoding": "text", "body": "hello world",
	}, nil)
	require.NoError(t, err)
}

func TestHTTPRequest_CustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "my-agent", r.Header.Get("X-Agent"))
		w.WriteHeader(200)
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpStep(), map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Agent": "my-agent"},
	}, nil)
	require.NoError(t, err)
}

func TestHTTPRequest_CredentialsAuth(t *testing.T) {
	tests := []struct {
		name  string
		creds map[string]string
		check func(t *testing.T, r *http.Request)
	}{
		{
			name:  "bearer",
			creds: map[string]string{"token": "my-secret-token"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer my-secret-token", r.Header.Get("Authorization"))
			},
		},
		{
			name:  "basic",
			creds: map[string]string{"username": "admin", "password": "s3cret"},
			check: func(t *testing.T, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "admin", user)
				assert.Equal(t, "s3cret", pass)
			},
		},
		{
			name:  "api key",
			creds: map[string]string{"headerName": "X-API-Key", "headerValue": "key-12345"},
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "key-12345", r.Header.Get("X-API-Key"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.check(t, r)
				w.WriteHeader(200)
			}))
			defer srv.Close()

			result, err := execHTTP(t, httpStep(), map[string]any{"url": srv.URL}, tt.creds)
			require.NoError(t, err)
			for _, secret := range tt.creds {
				assert.NotContains(t, fmt.Sprint(result), secret)
			}
		})
	}
}

func TestHTTPRequest_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpStep(), map[string]any{"url": srv.URL, "timeout": "100ms"}, nil)
	requireCode(t, err, schema.ErrCodeStepFailed)
}

func TestHTTPRequest_Redirects(t *testing.T) {
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.Header().Set("Location", fmt.Sprintf("/redirect-%d", count))
		w.WriteHeader(302)
	}))
	defer srv.Close()

	result, err := execHTTP(t, httpStep(), map[string]any{"url": srv.URL, "followRedirects": false}, nil)
	require.NoError(t, err)
	assert.Equal(t, 302, result["statusCode"])

	_, err = execHTTP(t, httpStep(), map[string]any{"url": srv.URL, "maxRedirects": 3}, nil)
	requireCode(t, err, schema.ErrCodeStepFailed)
}

func TestHTTPRequest_ResponseSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("X", 1024)))
	}))
	defer srv.Close()

	result, err := execHTTP(t, NewHTTPRequestStep(HTTPConfig{MaxResponseBody: 100}), map[string]any{"url": srv.URL}, nil)
	require.NoError(t, err)

	body, ok := result["body"].(string)
	require.True(t, ok)
	assert.Len(t, body, 100)
}

func TestHTTPRequest_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	}))
	defer srv.Close()

	result, err := execHTTP(t, httpStep(), map[string]any{"url": srv.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, 204, result["statusCode"])
	assert.Nil(t, result["body"])
}

func TestHTTPRequest_InvalidURL(t *testing.T) {
	_, err := execHTTP(t, httpStep(), map[string]any{}, nil)
	flowErr := requireCode(t, err, schema.ErrCodeValidation)
	assert.Contains(t, flowErr.Message, "url")

	_, err = execHTTP(t, httpStep(), map[string]any{"url": "not-a-url"}, nil)
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestHTTPRequest_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := httpStep().Execute(ctx, StepInput{Config: map[string]any{"url": srv.URL, "timeout": "10s"}})
	requireCode(t, err, schema.ErrCodeStepFailed)
}

func TestHTTPRequest_FailOnErrorStatus(t *testing.T) {
	status := 404
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	_, err := execHTTP(t, httpStep(), map[string]any{"url": srv.URL, "failOnErrorStatus": true}, nil)
	flowErr := requireCode(t, err, schema.ErrCodeStepFailed)
	assert.Contains(t, flowErr.Message, "404")
	assert.False(t, IsRetryableError(err))

	status = 503
	_, err = execHTTP(t, httpStep(), map[string]any{"url": srv.URL, "failOnErrorStatus": true}, nil)
	require.Error(t, err)
	assert.True(t, IsRetryableError(err))

	result, err := execHTTP(t, httpStep(), map[string]any{"url": srv.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, 503, result["statusCode"])
	body, ok := result["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boom", body["error"])
}
