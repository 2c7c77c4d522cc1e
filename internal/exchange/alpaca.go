package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/ohlcv-hub/internal/errors"
	"github.com/johnayoung/ohlcv-hub/internal/logger"
	"github.com/johnayoung/ohlcv-hub/internal/metrics"
	"github.com/johnayoung/ohlcv-hub/internal/models"
	"github.com/johnayoung/ohlcv-hub/internal/ratelimit"
)

const (
	// Alpaca Market Data API base URL
	alpacaBaseURL = "https://data.alpaca.markets"

	// API endpoints
	barsEndpoint = "/v2/stocks/bars"

	// Authentication headers
	headerAPIKeyID     = "APCA-API-KEY-ID"
	headerAPISecretKey = "APCA-API-SECRET-KEY"

	// Request configuration
	requestTimeout    = 10 * time.Second
	maxErrorBodyChars = 500

	// Health check configuration
	pingSymbol   = "SPY"
	pingLookback = 10 * 24 * time.Hour
)

// AlpacaClient fetches stock bars from the Alpaca Market Data v2 API.
//
// One FetchBars call is strictly sequential: each page waits for its
// response, retries and throttle delays before the next action. The
// rate-limit snapshot lives on the stack of that call, so a client can be
// shared between callers without leaking quota state.
type AlpacaClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string

	clock   Clock
	sleeper Sleeper
	logger  *slog.Logger
	metrics *metrics.FetchMetrics
	limiter *rate.Limiter
}

// Option configures an AlpacaClient.
type Option func(*AlpacaClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *AlpacaClient) { c.httpClient = client }
}

// WithBaseURL points the client at another host (trailing slashes are trimmed).
func WithBaseURL(baseURL string) Option {
	return func(c *AlpacaClient) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *AlpacaClient) { c.httpClient.Timeout = timeout }
}

// WithClock replaces the wall clock used for reset arithmetic.
func WithClock(clock Clock) Option {
	return func(c *AlpacaClient) { c.clock = clock }
}

// WithSleeper replaces the blocking sleep used for retries and throttling.
func WithSleeper(sleeper Sleeper) Option {
	return func(c *AlpacaClient) { c.sleeper = sleeper }
}

// WithLogger enables throttle and retry diagnostics. The logger is used
// as given; callers scope it to a component.
func WithLogger(l *slog.Logger) Option {
	return func(c *AlpacaClient) { c.logger = l }
}

// WithMetrics records request, retry and page counts into m.
func WithMetrics(m *metrics.FetchMetrics) Option {
	return func(c *AlpacaClient) { c.metrics = m }
}

// WithRequestRate paces requests client-side to perMinute, on top of the
// server-driven throttling. Zero or less disables pacing.
func WithRequestRate(perMinute int) Option {
	return func(c *AlpacaClient) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// NewAlpacaClient creates a client authenticated with the given key pair.
// It is silent unless WithLogger is supplied.
func NewAlpacaClient(apiKey, apiSecret string, opts ...Option) *AlpacaClient {
	c := &AlpacaClient{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:   alpacaBaseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		clock:     SystemClock{},
		sleeper:   RealSleeper{},
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchBars implements the BarsFetcher interface.
func (c *AlpacaClient) FetchBars(ctx context.Context, req BarsRequest) (*BarsResponse, error) {
	req.Symbols = NormalizeSymbols(req.Symbols)
	if req.Sort == "" {
		req.Sort = SortAsc
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + barsEndpoint
	baseQuery := buildQuery(req)

	result := &BarsResponse{Bars: make(map[string][]models.RawBar)}
	var state ratelimit.State
	pageToken := ""

	for page := 1; ; page++ {
		if err := c.throttle(ctx, state); err != nil {
			return nil, err
		}

		query := cloneQuery(baseQuery)
		if pageToken != "" {
			query.Set("page_token", pageToken)
		}

		resp, err := c.getWithRetry(ctx, endpoint, query)
		if err != nil {
			return nil, err
		}

		state = state.Observe(resp.header)

		if resp.statusCode != http.StatusOK {
			return nil, statusError(resp)
		}

		parsed, err := parsePage(resp.body)
		if err != nil {
			return nil, apperrors.NewProviderError(resp.statusCode, "Failed to parse JSON response: %v", err)
		}

		pageBars := 0
		for _, symbol := range parsed.order {
			bars := parsed.bars[symbol]
			result.Bars[symbol] = append(result.Bars[symbol], bars...)
			pageBars += len(bars)
		}
		if result.Currency == "" && parsed.currency != "" {
			result.Currency = parsed.currency
		}
		c.metrics.RecordPage(pageBars)

		c.logger.Debug("fetched bars page",
			"page", page,
			"bars", pageBars,
			"symbols", len(parsed.order),
			"has_next", parsed.nextPageToken != "")

		if parsed.nextPageToken == "" {
			break
		}
		pageToken = parsed.nextPageToken
	}

	return result, nil
}

// Ping implements the HealthChecker interface with a one-bar SPY request
// over the last ten days on the IEX feed.
func (c *AlpacaClient) Ping(ctx context.Context) error {
	now := c.clock.Now().UTC()
	_, err := c.FetchBars(ctx, BarsRequest{
		Symbols:    []string{pingSymbol},
		Timeframe:  TimeframeDay,
		Start:      models.Date(now.Add(-pingLookback)),
		End:        models.Date(now),
		Limit:      1,
		Adjustment: models.AdjustmentRaw,
		Feed:       models.FeedIEX,
		Sort:       SortAsc,
	})
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// throttle waits before a page request when the previous response reported
// an exhausted quota.
func (c *AlpacaClient) throttle(ctx context.Context, state ratelimit.State) error {
	delay := ratelimit.ComputeProactiveDelay(state, c.clock.Now())
	if delay <= 0 {
		return nil
	}

	c.logger.Info("proactive throttle",
		"remaining", *state.Remaining,
		"reset", *state.Reset,
		"sleep_secs", delay.Seconds())

	if err := c.sleeper.Sleep(ctx, delay); err != nil {
		return fmt.Errorf("proactive throttle interrupted: %w", err)
	}
	c.metrics.RecordProactiveThrottle(delay)
	return nil
}

// getWithRetry issues the request and repeats it while the server answers
// 429, up to ratelimit.MaxRetries extra attempts. The last response is
// returned whatever its status.
func (c *AlpacaClient) getWithRetry(ctx context.Context, endpoint string, query url.Values) (*httpResponse, error) {
	resp, err := c.get(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}

	for retry := 0; resp.statusCode == http.StatusTooManyRequests && retry < ratelimit.MaxRetries; retry++ {
		delay, strategy := ratelimit.ComputeRetryDelay(resp.header, retry, c.clock.Now())

		c.logger.Info("429 retry",
			"attempt", retry+1,
			"sleep_secs", delay.Seconds(),
			"strategy", strategy)

		if err := c.sleeper.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry wait interrupted: %w", err)
		}
		c.metrics.RecordRetry(delay)

		resp, err = c.get(ctx, endpoint, query)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

type httpResponse struct {
	statusCode int
	header     http.Header
	body       []byte
}

func (c *AlpacaClient) get(ctx context.Context, endpoint string, query url.Values) (*httpResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerAPIKeyID, c.apiKey)
	req.Header.Set(headerAPISecretKey, c.apiSecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ohlcv-hub/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.metrics.RecordRequest(resp.StatusCode)
	return &httpResponse{statusCode: resp.StatusCode, header: resp.Header, body: body}, nil
}

func buildQuery(req BarsRequest) url.Values {
	q := url.Values{}
	q.Set("symbols", strings.Join(req.Symbols, ","))
	q.Set("timeframe", req.Timeframe)
	q.Set("start", models.FormatDate(req.Start))
	q.Set("end", models.FormatDate(req.End))
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("adjustment", string(req.Adjustment))
	q.Set("sort", req.Sort)
	if req.Feed != "" {
		q.Set("feed", string(req.Feed))
	}
	if req.AsOf != "" {
		q.Set("asof", req.AsOf)
	}
	return q
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q)+1)
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func statusError(resp *httpResponse) error {
	text := truncate(string(resp.body), maxErrorBodyChars)
	if text == "" {
		text = "(no response body)"
	}
	if resp.statusCode == http.StatusTooManyRequests {
		return apperrors.NewProviderError(resp.statusCode,
			"API rate limited (429) after %d retries exhausted: %s", ratelimit.MaxRetries, text)
	}
	return apperrors.NewProviderError(resp.statusCode,
		"API request failed with status %d: %s", resp.statusCode, text)
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

type page struct {
	bars          map[string][]models.RawBar
	order         []string
	currency      string
	nextPageToken string
}

// parsePage reads one bars envelope:
//
//	{"bars": {"AAPL": [{"t": ..., "o": ...}]}, "next_page_token": "...", "currency": "USD"}
//
// A null or empty next_page_token both end pagination.
func parsePage(body []byte) (*page, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON body")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("expected a JSON object, got %s", root.Type)
	}

	p := &page{bars: make(map[string][]models.RawBar)}

	if token := root.Get("next_page_token"); token.Type == gjson.String {
		p.nextPageToken = token.String()
	}
	if currency := root.Get("currency"); currency.Type == gjson.String {
		p.currency = currency.String()
	}

	var parseErr error
	bars := root.Get("bars")
	if !bars.Exists() || bars.Type == gjson.Null {
		return p, nil
	}
	if !bars.IsObject() {
		return nil, fmt.Errorf("bars: expected an object keyed by symbol")
	}
	bars.ForEach(func(key, value gjson.Result) bool {
		symbol := key.String()
		if value.Type == gjson.Null {
			return true
		}
		if !value.IsArray() {
			parseErr = fmt.Errorf("bars.%s: expected an array", symbol)
			return false
		}
		if _, seen := p.bars[symbol]; !seen {
			p.order = append(p.order, symbol)
			p.bars[symbol] = make([]models.RawBar, 0, len(value.Array()))
		}
		value.ForEach(func(_, item gjson.Result) bool {
			var bar models.RawBar
			if err := json.Unmarshal([]byte(item.Raw), &bar); err != nil {
				parseErr = fmt.Errorf("bars.%s: %w", symbol, err)
				return false
			}
			p.bars[symbol] = append(p.bars[symbol], bar)
			return true
		})
		return parseErr == nil
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return p, nil
}
