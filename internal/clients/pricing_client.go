// internal/clients/pricing_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// MarketInfo is the pricing service's view of a member's market.
type MarketInfo struct {
	Market            string `json:"market"`
	PreferredCurrency string `json:"preferredCurrency"`
}

type PricingClient struct {
	client *resty.Client
}

func NewPricingClient(baseURL string, timeout time.Duration) *PricingClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &PricingClient{client: client}
}

func (c *PricingClient) GetMarketInfo(ctx context.Context, memberID string) (*MarketInfo, error) {
	var info MarketInfo
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("memberId", memberID).
		SetResult(&info).
		ForceContentType("application/json").
		Get("/_/contracts/members/{memberId}/market-info")
	if err != nil {
		return nil, fmt.Errorf("get market info: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}
	return &info, nil
}

// PreferredCurrency asks the pricing service every time; the answer is
// never cached.
func (c *PricingClient) PreferredCurrency(ctx context.Context, memberID string) (string, error) {
	info, err := c.GetMarketInfo(ctx, memberID)
	if err != nil {
		return "", fmt.Errorf("market info for member %s: %w", memberID, err)
	}
	if info.PreferredCurrency == "" {
		return "", fmt.Errorf("market info for member %s has no preferred currency", memberID)
	}
	return strings.ToUpper(info.PreferredCurrency), nil
}
