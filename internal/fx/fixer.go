package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maltedev/landed-cost/internal/ratelimit"
)

const DefaultFixerBaseURL = "http://data.fixer.io/api"

// APIError is an error reported by Fixer in a success=false body.
type APIError struct {
	Code int
	Info string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fixer api error %d: %s", e.Code, e.Info)
}

type fixerResponse struct {
	Success *bool                      `json:"success"`
	Base    string                     `json:"base"`
	Rates   map[string]decimal.Decimal `json:"rates"`
	Error   *struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// FixerClient reads the USD to INR rate from the Fixer.io latest endpoint.
// Fixer quotes against EUR, so the rate is derived as INR/EUR ÷ USD/EUR.
type FixerClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

type FixerOptions struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Limiter    ratelimit.Limiter
	HTTPClient *http.Client
}

func NewFixerClient(opts FixerOptions, logger *slog.Logger) *FixerClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultFixerBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	return &FixerClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    opts.HTTPClient,
		limiter: opts.Limiter,
		logger:  logger.With("component", "fixer_client"),
	}
}

func (c *FixerClient) USDToINR(ctx context.Context) (Rate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Rate{}, fmt.Errorf("wait for rate limiter: %w", err)
	}

	rate, err := c.fetch(ctx)
	if b, ok := c.limiter.(interface {
		RecordError()
		RecordSuccess()
	}); ok {
		if err != nil {
			b.RecordError()
		} else {
			b.RecordSuccess()
		}
	}
	if err != nil {
		c.logger.Error("failed to fetch exchange rate", "error", err)
		return Rate{}, err
	}

	c.logger.Info("fetched exchange rate", "usd_inr", rate.Value.String())
	return rate, nil
}

func (c *FixerClient) fetch(ctx context.Context) (Rate, error) {
	endpoint := c.baseURL + "/latest?" + url.Values{"access_key": {c.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Rate{}, fmt.Errorf("build fixer request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Rate{}, fmt.Errorf("request fixer rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rate{}, fmt.Errorf("request fixer rates: unexpected status %d", resp.StatusCode)
	}

	var body fixerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Rate{}, fmt.Errorf("decode fixer response: %w", err)
	}

	if body.Success != nil && !*body.Success {
		apiErr := &APIError{Info: "No info"}
		if body.Error != nil {
			apiErr.Code = body.Error.Code
			if body.Error.Info != "" {
				apiErr.Info = body.Error.Info
			}
		}
		return Rate{}, apiErr
	}

	usd, okUSD := body.Rates["USD"]
	inr, okINR := body.Rates["INR"]
	if !okUSD || !okINR || usd.IsZero() {
		return Rate{}, ErrRateMissing
	}

	return Rate{
		Value:     inr.DivRound(usd, 4),
		Source:    "fixer",
		FetchedAt: time.Now(),
	}, nil
}
