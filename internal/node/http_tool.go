package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/retry"
)

// HTTPTool is a built-in tool that issues a single HTTP request, grounded
// on the teacher's HTTPRequestExecutor in node_executors.go (method/url/
// headers/body config, variable substitution in the URL and body).
func HTTPTool(client *http.Client) ToolFunc {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return func(ctx context.Context, ec *domain.ExecutionContext, params map[string]any) (any, error) {
		method, _ := params["method"].(string)
		if method == "" {
			method = http.MethodGet
		}
		url, _ := params["url"].(string)
		vars := ec.Variables.All()
		vars["input"] = ec.Input
		url = substituteVariables(url, vars)

		var body io.Reader
		if b, ok := params["body"]; ok && b != nil {
			raw, err := json.Marshal(b)
			if err != nil {
				return nil, retry.New(retry.KindValidation, "", "invalid tool body", err)
			}
			body = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, retry.New(retry.KindValidation, "", "invalid http tool request", err)
		}
		if headers, ok := params["headers"].(map[string]any); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprintf("%v", v))
			}
		}
		if body != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, retry.New(retry.KindNetwork, "", "http tool request failed", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retry.New(retry.KindNetwork, "", "failed reading http tool response", err)
		}
		if resp.StatusCode >= 500 {
			return nil, retry.New(retry.KindNetwork, "", fmt.Sprintf("http tool got status %d", resp.StatusCode), nil)
		}
		if resp.StatusCode >= 400 {
			return nil, retry.New(retry.KindValidation, "", fmt.Sprintf("http tool got status %d", resp.StatusCode), nil)
		}

		var parsed any
		if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr == nil {
			return parsed, nil
		}
		return string(respBody), nil
	}
}
