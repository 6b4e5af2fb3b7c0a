package dgg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type getKeyResponse struct {
	ChatKey string `json:"chatKey"`
}

// fetchGetKey retrieves a short-lived chat key from origin's
// /api/chat/getkey endpoint, the way destiny.gg's own frontend
// authenticates its chat WebSocket.
func fetchGetKey(ctx context.Context, origin string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/api/chat/getkey", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dgg: getkey: unexpected status %d", resp.StatusCode)
	}
	var body getKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("dgg: getkey: decode response: %w", err)
	}
	if body.ChatKey == "" {
		return "", fmt.Errorf("dgg: getkey: empty chatKey in response")
	}
	return body.ChatKey, nil
}
