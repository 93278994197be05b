// Package jupiter is the HTTP adapter for a Jupiter-style swap router: quotes,
// USD prices and unsigned swap transactions.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/observability"
)

// Default configuration values.
const (
	DefaultQuoteURL = "https://lite-api.jup.ag/swap/v1"
	DefaultPriceURL = "https://lite-api.jup.ag/price/v2"
	DefaultTimeout  = 10 * time.Second
	DefaultQuoteTTL = 15 * time.Second
)

// api holds what the quote and price clients share: HTTP transport, API key,
// optional shared rate limit and metrics.
type api struct {
	httpClient *http.Client
	apiKey     string
	limiter    domain.RateLimiter
	rateKey    string
	rateLimit  int
	rateWindow time.Duration
	metrics    *observability.Metrics
}

// ClientOption configures a Client or PriceClient.
type ClientOption func(*api)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(a *api) { a.httpClient = c }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(a *api) { a.httpClient.Timeout = d }
}

// WithAPIKey sends key in the x-api-key header.
func WithAPIKey(key string) ClientOption {
	return func(a *api) { a.apiKey = key }
}

// WithRateLimit throttles requests through a shared limiter so several
// processes stay within one upstream quota.
func WithRateLimit(l domain.RateLimiter, key string, limit int, window time.Duration) ClientOption {
	return func(a *api) {
		a.limiter = l
		a.rateKey = key
		a.rateLimit = limit
		a.rateWindow = window
	}
}

// WithMetrics records request latency and errors.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(a *api) { a.metrics = m }
}

func newAPI(opts []ClientOption) api {
	a := api{httpClient: &http.Client{Timeout: DefaultTimeout}}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// do performs one request and returns the body of a 2xx response. Failures
// wrap domain.ErrGateway.
func (a *api) do(ctx context.Context, op, method, rawURL string, body any) ([]byte, error) {
	start := time.Now()
	out, err := a.doOnce(ctx, method, rawURL, body)
	a.metrics.RecordUpstream("jupiter", op, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}
	return out, nil
}

func (a *api) doOnce(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	if a.limiter != nil && a.rateLimit > 0 {
		if err := a.limiter.Wait(ctx, a.rateKey, a.rateLimit, a.rateWindow); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("x-api-key", a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := string(body)
	if len(msg) > 256 {
		msg = msg[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

// Client is the quote and swap client. It implements domain.QuoteGateway.
type Client struct {
	api
	baseURL  string
	quoteTTL time.Duration
	now      func() time.Time
}

// NewClient creates a quote client. baseURL is the router root serving
// /quote and /swap, e.g. DefaultQuoteURL. Quotes are valid for quoteTTL.
func NewClient(baseURL string, quoteTTL time.Duration, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultQuoteURL
	}
	if quoteTTL <= 0 {
		quoteTTL = DefaultQuoteTTL
	}
	return &Client{
		api:      newAPI(opts),
		baseURL:  baseURL,
		quoteTTL: quoteTTL,
		now:      time.Now,
	}
}

// GetQuote prices swapping req.Amount base units of the input mint.
func (c *Client) GetQuote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	if !req.Amount.IsPositive() {
		return domain.Quote{}, fmt.Errorf("jupiter: get quote: %w: amount must be positive", domain.ErrGateway)
	}

	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", req.Amount.Truncate(0).String())
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	params.Set("swapMode", "ExactIn")

	body, err := c.do(ctx, "quote", http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("jupiter: get quote %s: %w", req.OutputMint, err)
	}
	quotedAt := c.now()

	var q APIQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return domain.Quote{}, fmt.Errorf("jupiter: decode quote: %w: %w", domain.ErrGateway, err)
	}
	q.Raw = body

	in, err := decimal.NewFromString(q.InAmount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("jupiter: decode quote inAmount %q: %w: %w", q.InAmount, domain.ErrGateway, err)
	}
	out, err := decimal.NewFromString(q.OutAmount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("jupiter: decode quote outAmount %q: %w: %w", q.OutAmount, domain.ErrGateway, err)
	}

	impact := float64(q.PriceImpactPct)
	return domain.Quote{
		InputMint:    q.InputMint,
		OutputMint:   q.OutputMint,
		InputAmount:  in,
		OutputAmount: out,
		// The router reports impact as a fraction.
		PriceImpactPct: impact * 100,
		Route: domain.Route{
			Venues:       q.Venues(),
			LiquidityUSD: impliedLiquidityUSD(req.InputValueUSD, impact),
			Raw:          q.Raw,
		},
		QuotedAt:  quotedAt,
		ExpiresAt: quotedAt.Add(c.quoteTTL),
	}, nil
}

// impliedLiquidityUSD estimates the depth of a route from the impact of a
// swap worth inputUSD, treating the route as one constant-product pool: an
// input x against a side holding L/2 moves the price by about 2x/L. Zero
// means no estimate.
func impliedLiquidityUSD(inputUSD, impactFraction float64) float64 {
	if !(inputUSD > 0) || !(impactFraction > 0) {
		return 0
	}
	liq := 2 * inputUSD / impactFraction
	if math.IsInf(liq, 0) {
		return 0
	}
	return liq
}

// SwapTransaction is an unsigned, serialized transaction built by the router.
type SwapTransaction struct {
	Tx                   []byte
	LastValidBlockHeight uint64
}

// BuildSwap asks the router to build the transaction for a previously quoted
// route, paid for by userPublicKey.
func (c *Client) BuildSwap(ctx context.Context, route domain.Route, userPublicKey string) (SwapTransaction, error) {
	if len(route.Raw) == 0 {
		return SwapTransaction{}, fmt.Errorf("jupiter: build swap: route has no quote payload")
	}
	body, err := c.do(ctx, "swap", http.MethodPost, c.baseURL+"/swap", swapRequest{
		QuoteResponse:             route.Raw,
		UserPublicKey:             userPublicKey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: "auto",
	})
	if err != nil {
		return SwapTransaction{}, fmt.Errorf("jupiter: build swap: %w", err)
	}

	var resp APISwap
	if err := json.Unmarshal(body, &resp); err != nil {
		return SwapTransaction{}, fmt.Errorf("jupiter: decode swap: %w", err)
	}
	tx, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return SwapTransaction{}, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}
	if len(tx) == 0 {
		return SwapTransaction{}, fmt.Errorf("jupiter: build swap: empty transaction")
	}
	return SwapTransaction{Tx: tx, LastValidBlockHeight: resp.LastValidBlockHeight}, nil
}

// PriceClient fetches USD prices. It implements domain.PriceFeed.
type PriceClient struct {
	api
	priceURL string
}

// NewPriceClient creates a price client for the given endpoint, e.g.
// DefaultPriceURL.
func NewPriceClient(priceURL string, opts ...ClientOption) *PriceClient {
	if priceURL == "" {
		priceURL = DefaultPriceURL
	}
	return &PriceClient{api: newAPI(opts), priceURL: priceURL}
}

// USDPrice returns the USD price of one whole token of mint.
func (p *PriceClient) USDPrice(ctx context.Context, mint string) (float64, error) {
	prices, err := p.USDPrices(ctx, []string{mint})
	if err != nil {
		return 0, err
	}
	price, ok := prices[mint]
	if !ok || !(price > 0) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("jupiter: price %s: %w: no price returned", mint, domain.ErrGateway)
	}
	return price, nil
}

// USDPrices fetches prices for several mints in one request. Mints without a
// price are absent from the result.
func (p *PriceClient) USDPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(mints, ","))

	body, err := p.do(ctx, "price", http.MethodGet, p.priceURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: get prices: %w", err)
	}

	var resp APIPriceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode prices: %w: %w", domain.ErrGateway, err)
	}
	out := make(map[string]float64, len(resp.Data))
	for mint, pr := range resp.Data {
		if pr == nil {
			continue
		}
		out[mint] = float64(pr.Price)
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.QuoteGateway = (*Client)(nil)
	_ domain.PriceFeed    = (*PriceClient)(nil)
)
