package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskhub/realtime/internal/models"
)

// Client fetches confirmed message history from the chat relay.
// History storage itself is owned by the relay; this client only reads.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a history client for the given relay base URL.
// The bearer token is attached to every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch returns the confirmed messages for a room, oldest first, in the
// order the server defines. The caller decides what to do with the result;
// a failed fetch leaves whatever sequence the caller already had.
func (c *Client) Fetch(ctx context.Context, roomID string) ([]models.ChatMessage, error) {
	url := fmt.Sprintf("%s/api/rooms/%s/history", c.baseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create history request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("history error (status %d): %s", resp.StatusCode, string(body))
	}

	var parsed models.HistoryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}

	for i := range parsed.Messages {
		parsed.Messages[i].Delivery = models.DeliveryConfirmed
	}
	return parsed.Messages, nil
}
