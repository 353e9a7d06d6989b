// Package marketplace implements the Selling Partner API client boundary:
// OAuth token refresh, per-category rate limiting, circuit breaking, and a
// blocking Call for the handful of categories agents in this platform use
// (catalog, inventory, pricing, orders, listings).
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Category is an SP-API operation family; each gets its own rate limiter
// and circuit breaker, matching the distinct throttle buckets Amazon
// enforces per endpoint group.
type Category string

const (
	CategoryCatalog   Category = "catalog"
	CategoryInventory Category = "inventory"
	CategoryPricing   Category = "pricing"
	CategoryOrders    Category = "orders"
	CategoryListings  Category = "listings"
)

// categoryRateLimits mirrors SP-API's published per-operation-group steady
// state request rates (requests/second).
var categoryRateLimits = map[Category]rate.Limit{
	CategoryCatalog:   5,
	CategoryInventory: 2,
	CategoryPricing:   1,
	CategoryOrders:    3,
	CategoryListings:  2,
}

// Credentials holds the LWA refresh-token OAuth inputs read from the
// environment at startup.
type Credentials struct {
	AppID        string
	ClientSecret string
	RefreshToken string
	MarketplaceID string
}

// CredentialsFromEnv reads LWA_APP_ID, LWA_CLIENT_SECRET,
// SP_API_REFRESH_TOKEN, and MARKETPLACE_ID.
func CredentialsFromEnv() Credentials {
	return Credentials{
		AppID:         os.Getenv("LWA_APP_ID"),
		ClientSecret:  os.Getenv("LWA_CLIENT_SECRET"),
		RefreshToken:  os.Getenv("SP_API_REFRESH_TOKEN"),
		MarketplaceID: os.Getenv("MARKETPLACE_ID"),
	}
}

const tokenCacheKey = "sp_api_access_token"

// Client is the blocking SP-API call boundary used by market-facing agent
// handlers.
type Client struct {
	httpClient *http.Client
	creds      Credentials
	baseURL    string
	tokenCache *cache.Cache
	logger     *slog.Logger

	limiters  map[Category]*rate.Limiter
	breakers  map[Category]*gobreaker.CircuitBreaker[*http.Response]
}

// NewClient builds a Client with per-category limiters and breakers wired
// from categoryRateLimits.
func NewClient(creds Credentials, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		creds:      creds,
		baseURL:    baseURL,
		tokenCache: cache.New(50*time.Minute, 5*time.Minute),
		logger:     logger,
		limiters:   make(map[Category]*rate.Limiter),
		breakers:   make(map[Category]*gobreaker.CircuitBreaker[*http.Response]),
	}
	for cat, limit := range categoryRateLimits {
		cat := cat
		burst := int(limit) + 1
		if burst < 1 {
			burst = 1
		}
		c.limiters[cat] = rate.NewLimiter(limit, burst)
		c.breakers[cat] = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        string(cat),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("marketplace circuit breaker state change", "category", name, "from", from, "to", to)
			},
		})
	}
	return c
}

// Call issues a blocking SP-API request against the given category,
// rate-limited and circuit-broken per category, authenticated with a
// cached (or freshly refreshed) access token. Any non-2xx response is
// returned as an error. Each Call makes a single attempt: a 429 or 5xx
// response is not retried.
func (c *Client) Call(ctx context.Context, category Category, method, endpoint string, params map[string]string, body any) (map[string]any, error) {
	limiter, ok := c.limiters[category]
	if !ok {
		return nil, fmt.Errorf("marketplace: unknown category %q", category)
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("marketplace: rate limiter wait: %w", err)
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	breaker := c.breakers[category]
	resp, err := breaker.Execute(func() (*http.Response, error) {
		return c.doRequest(ctx, method, endpoint, params, body, token)
	})
	if err != nil {
		return nil, fmt.Errorf("marketplace: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("marketplace: %s %s returned %d", method, endpoint, resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("marketplace: decoding response: %w", err)
	}
	return decoded, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, params map[string]string, body any, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = newJSONReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-amz-access-token", token)
	req.Header.Set("Content-Type", "application/json")
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("MarketplaceId", c.creds.MarketplaceID)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, fmt.Errorf("marketplace: %s returned %d", endpoint, resp.StatusCode)
	}
	return resp, nil
}

// accessToken returns a cached LWA access token, refreshing it via the
// OAuth2 refresh-token grant when absent or expired.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if tok, ok := c.tokenCache.Get(tokenCacheKey); ok {
		return tok.(string), nil
	}
	token, err := c.refreshAccessToken(ctx)
	if err != nil {
		return "", err
	}
	c.tokenCache.Set(tokenCacheKey, token, cache.DefaultExpiration)
	return token, nil
}

func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	form := fmt.Sprintf(
		"grant_type=refresh_token&refresh_token=%s&client_id=%s&client_secret=%s",
		c.creds.RefreshToken, c.creds.AppID, c.creds.ClientSecret,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.amazon.com/auth/o2/token", newJSONReaderRaw(form))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("marketplace: token refresh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("marketplace: token refresh returned %d", resp.StatusCode)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("marketplace: decoding token response: %w", err)
	}
	c.logger.Info("refreshed SP-API access token")
	return tr.AccessToken, nil
}
