package brokers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// statusToCode maps HTTP-level failures from broker REST APIs onto the fixed
// taxonomy before any body parsing happens.
func statusToCode(statusCode int) ErrorCode {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return CodeAuthError
	case statusCode == http.StatusTooManyRequests:
		return CodeRateLimit
	case statusCode >= 500:
		return CodeBrokerError
	default:
		return CodeUnknown
	}
}

// postJSON issues a JSON POST and decodes the response into out. Non-2xx
// responses are returned as ClassifiedErrors carrying the mapped code.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewClassifiedError(statusToCode(resp.StatusCode),
			fmt.Errorf("broker returned %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return NewClassifiedError(CodeBrokerError, fmt.Errorf("malformed broker response: %w", err))
		}
	}
	return nil
}

// getJSON issues a GET and decodes the response into out, with the same error
// mapping as postJSON.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NewClassifiedError(statusToCode(resp.StatusCode),
			fmt.Errorf("broker returned %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return NewClassifiedError(CodeBrokerError, fmt.Errorf("malformed broker response: %w", err))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
