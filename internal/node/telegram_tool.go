package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/flowcraft/engine/internal/retry"
)

// TelegramTool is a built-in tool that posts a message to a Telegram chat
// via the Bot API, grounded on the teacher's TelegramMessageExecutor in
// node_executors.go.
func TelegramTool(botToken string, client *http.Client) ToolFunc {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context, ec *domain.ExecutionContext, params map[string]any) (any, error) {
		chatID, _ := params["chatId"].(string)
		text, _ := params["text"].(string)
		vars := ec.Variables.All()
		vars["input"] = ec.Input
		text = substituteVariables(text, vars)

		if chatID == "" || text == "" {
			return nil, retry.New(retry.KindValidation, "", "telegram tool requires chatId and text", nil)
		}

		payload, err := json.Marshal(map[string]any{"chat_id": chatID, "text": text})
		if err != nil {
			return nil, retry.New(retry.KindValidation, "", "invalid telegram payload", err)
		}
		url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, retry.New(retry.KindValidation, "", "invalid telegram request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, retry.New(retry.KindNetwork, "", "telegram request failed", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.New(retry.KindRateLimit, "", "telegram rate limited", nil)
		}
		if resp.StatusCode >= 500 {
			return nil, retry.New(retry.KindNetwork, "", fmt.Sprintf("telegram status %d", resp.StatusCode), nil)
		}
		if resp.StatusCode >= 400 {
			return nil, retry.New(retry.KindValidation, "", fmt.Sprintf("telegram status %d", resp.StatusCode), nil)
		}
		return map[string]any{"sent": true}, nil
	}
}
