package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wormhole-demo/portal-transfer/internal"
	"go.uber.org/zap"
)

type signedVAAResponse struct {
	VAABytes string `json:"vaaBytes"`
	Message  string `json:"message,omitempty"`
}

// SignedVAAAPIClient fetches signed VAAs from the guardian REST gateway
// (GET /v1/signed_vaa/{chain}/{emitter}/{sequence}).
type SignedVAAAPIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewSignedVAAAPIClient(logger *zap.Logger, baseURL string) *SignedVAAAPIClient {
	return &SignedVAAAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With(zap.String("component", "SignedVAAAPIClient")),
	}
}

// GetSignedVAA implements internal.AttestationService. 404 means guardians
// have not signed yet; 429 and 5xx are transient; other 4xx are rejections.
func (c *SignedVAAAPIClient) GetSignedVAA(ctx context.Context, key internal.MessageKey) (internal.Attestation, error) {
	url := fmt.Sprintf("%s/v1/signed_vaa/%d/%s/%d", c.baseURL, uint16(key.EmitterChain), key.EmitterHex(), key.Sequence)
	c.logger.Debug("Requesting signed VAA", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signed VAA request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read signed VAA response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", internal.ErrAttestationNotReady, key)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("signed VAA service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: service returned %d: %s", internal.ErrAttestationRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected signed VAA status %d", resp.StatusCode)
	}

	var response signedVAAResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signed VAA response: %v", err)
	}
	if response.VAABytes == "" {
		return nil, fmt.Errorf("%w: empty VAA for %s", internal.ErrAttestationNotReady, key)
	}
	vaaBytes, err := base64.StdEncoding.DecodeString(response.VAABytes)
	if err != nil {
		return nil, fmt.Errorf("%w: VAA is not base64: %v", internal.ErrAttestationRejected, err)
	}
	return internal.Attestation(vaaBytes), nil
}

// CheckHealth probes the gateway root.
func (c *SignedVAAAPIClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/heartbeats", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signed VAA service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
