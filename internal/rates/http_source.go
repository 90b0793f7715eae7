package rates

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// HTTPSource consulta um endpoint REST de preço no formato
// {"symbol": "BTCUSDT", "price": "43000.12"}. O endpoint aceita o marcador
// {asset}, ex.: https://api.binance.com/api/v3/ticker/price?symbol={asset}USDT
type HTTPSource struct {
	HTTP     *http.Client
	Endpoint string

	limiter *rate.Limiter
}

// NewHTTPSource limita as chamadas a perSecond requisições por segundo.
func NewHTTPSource(endpoint string, perSecond float64, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if perSecond <= 0 {
		perSecond = 5
	}
	return &HTTPSource{
		HTTP:     client,
		Endpoint: endpoint,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (s *HTTPSource) Rate(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate source throttled: %w", err)
	}
	endpoint := strings.ReplaceAll(s.Endpoint, "{asset}", asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, fmt.Errorf("rate source http %d", resp.StatusCode)
	}

	var parsed struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, err
	}
	p, err := decimal.NewFromString(strings.TrimSpace(parsed.Price))
	if err != nil || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid price %q", parsed.Price)
	}
	return p, nil
}
