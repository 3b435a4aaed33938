package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nightstudio/paywall/internal/app/domain/post"
	"github.com/nightstudio/paywall/internal/app/services/unlock"
	"github.com/nightstudio/paywall/pkg/logger"
)

// HTTP asks an external payment processor to settle a post price.
//
// Request:  POST {viewer_id, post_id, amount, currency, minor_units}
// Response: 200 {ok, reference, reason}
//
// Any other status, or an undecodable body, is a transport error.
type HTTP struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ unlock.Settler = (*HTTP)(nil)

// NewHTTP constructs an HTTP settler for endpoint.
func NewHTTP(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTP, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("settlement endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse settlement endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("settlement endpoint must be http(s): %q", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("settlement-http")
	}
	return &HTTP{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

type settleRequest struct {
	ViewerID   string        `json:"viewer_id"`
	PostID     string        `json:"post_id"`
	Amount     string        `json:"amount"`
	Currency   post.Currency `json:"currency"`
	MinorUnits int64         `json:"minor_units"`
}

type settleResponse struct {
	OK        bool   `json:"ok"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

func (h *HTTP) Settle(ctx context.Context, viewerID string, p post.Post) (unlock.Settlement, error) {
	body, err := json.Marshal(settleRequest{
		ViewerID:   viewerID,
		PostID:     p.ID,
		Amount:     p.Price.String(),
		Currency:   p.Currency,
		MinorUnits: p.MinorUnits(),
	})
	if err != nil {
		return unlock.Settlement{}, fmt.Errorf("encode settlement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return unlock.Settlement{}, fmt.Errorf("build settlement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return unlock.Settlement{}, fmt.Errorf("settlement request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		h.log.WithField("status", resp.StatusCode).Warnf("settlement processor error: %s", strings.TrimSpace(string(snippet)))
		return unlock.Settlement{}, fmt.Errorf("settlement status %d", resp.StatusCode)
	}

	var payload settleResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return unlock.Settlement{}, fmt.Errorf("decode settlement response: %w", err)
	}
	if payload.OK {
		return unlock.Settled(payload.Reference), nil
	}
	return unlock.Declined(payload.Reason), nil
}
