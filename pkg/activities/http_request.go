package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/novotx/elsa-core/pkg/workflow"
)

const defaultTimeoutSeconds = 30

var ErrHTTPServerError = errors.New("server error during HTTP request")

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// HTTPRequest sends an HTTP request and completes with the response. URL, headers and body
// are templates; the response is stored in Result when set.
type HTTPRequest struct {
	base

	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Result  string
	Timeout time.Duration
	Retry   RetryConfig

	client *http.Client
	logger *slog.Logger
}

func NewHTTPRequest(id string, config map[string]any, logger *slog.Logger) (*HTTPRequest, error) {
	url, err := requiredString(TypeHTTPRequest, config, "url")
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string)

	if headersMap, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	retry := RetryConfig{Attempts: 1}

	if retryMap, ok := config["retry"].(map[string]any); ok {
		if attempts, ok := retryMap["attempts"].(float64); ok && attempts >= 1 {
			retry.Attempts = int(attempts)
		}

		if delay, ok := retryMap["delay_ms"].(float64); ok {
			retry.Delay = time.Duration(delay) * time.Millisecond
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return &HTTPRequest{
		base:    base{id: id},
		Method:  strings.ToUpper(optionalString(config, "method", http.MethodGet)),
		URL:     url,
		Headers: headers,
		Body:    config["body"],
		Result:  optionalString(config, "result", ""),
		Timeout: timeout,
		Retry:   retry,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("module", "http_request_activity", "activity_id", id),
	}, nil
}

func (a *HTTPRequest) Type() string {
	return TypeHTTPRequest
}

func (a *HTTPRequest) Execute(ctx context.Context, actx *workflow.ActivityExecutionContext) error {
	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= a.Retry.Attempts; attempt++ {
		if attempt > 1 {
			a.logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "attempts", a.Retry.Attempts)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.Retry.Delay):
			}
		}

		req, err := a.buildRequest(ctx, actx)
		if err != nil {
			return err
		}

		resp, err = a.client.Do(req)
		if err != nil {
			resp = nil
			lastErr = fmt.Errorf("http request failed: %w", err)

			continue
		}

		if resp.StatusCode >= 500 && attempt < a.Retry.Attempts {
			lastErr = fmt.Errorf("status %d: %w", resp.StatusCode, ErrHTTPServerError)
			_ = resp.Body.Close()
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}

	result, err := a.processResponse(ctx, resp)
	if err != nil {
		return err
	}

	if a.Result != "" {
		actx.Set(a.Result, result)
	}

	return actx.Complete(ctx, result)
}

func (a *HTTPRequest) buildRequest(ctx context.Context, actx *workflow.ActivityExecutionContext) (*http.Request, error) {
	url, err := actx.Evaluate(a.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	var body io.Reader = http.NoBody

	if a.Body != nil {
		rendered, err := actx.Evaluate(a.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		if str, ok := rendered.(string); ok {
			body = strings.NewReader(str)
		} else {
			data, err := json.Marshal(rendered)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}

			body = strings.NewReader(string(data))
		}
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, fmt.Sprint(url), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		rendered, err := actx.Evaluate(value)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, fmt.Sprint(rendered))
	}

	return req, nil
}

func (a *HTTPRequest) processResponse(ctx context.Context, resp *http.Response) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	a.logger.InfoContext(ctx, "HTTP request completed", "status_code", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}, nil
}
