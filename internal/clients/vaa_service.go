package clients

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type postVAARequest struct {
	VAA string `json:"vaa"`
}

type postVAAResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// VAAPostingClient calls the service that verifies guardian signatures and
// posts a VAA to the Solana core bridge, creating its PostedVAA account.
type VAAPostingClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewVAAPostingClient(logger *zap.Logger, baseURL string) *VAAPostingClient {
	return &VAAPostingClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With(zap.String("component", "VAAPostingClient")),
	}
}

// PostVAA posts vaaBytes and returns the service's transaction signature.
func (c *VAAPostingClient) PostVAA(ctx context.Context, vaaBytes []byte) (string, error) {
	reqJSON, err := json.Marshal(postVAARequest{VAA: hex.EncodeToString(vaaBytes)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/post-vaa", bytes.NewReader(reqJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("Posting VAA via VAA service",
		zap.String("serviceURL", c.baseURL),
		zap.Int("vaaLength", len(vaaBytes)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var result postVAAResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
	}
	if !result.Success {
		if result.Error == "" {
			result.Error = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("VAA service error: %s", result.Error)
	}

	c.logger.Info("VAA posted via service",
		zap.String("signature", result.Signature),
		zap.String("message", result.Message))
	return result.Signature, nil
}

// CheckHealth checks if the VAA service is healthy.
func (c *VAAPostingClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("VAA service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
