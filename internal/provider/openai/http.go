package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gochat/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "gochat/0.1"
	maxErrorBody    = 64 * 1024
)

func newRequest(ctx context.Context, method, url string, cred provider.Credentials, headers map[string]string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// parseAPIError extracts the status and the server-supplied message of a failed response.
func parseAPIError(resp *http.Response) (int, string) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return resp.StatusCode, fmt.Sprintf("upstream error status %d", resp.StatusCode)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return resp.StatusCode, apiErr.Error.Message
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return resp.StatusCode, fmt.Sprintf("upstream error status %d", resp.StatusCode)
	}
	return resp.StatusCode, fmt.Sprintf("upstream error status %d: %s", resp.StatusCode, trimmed)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
