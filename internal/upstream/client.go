// Package upstream issues requests against the brokerage API, preferring the
// page's own fetch for authenticated calls and falling back to a direct
// HTTP client.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/go-resty/resty/v2"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/cdpcontrol"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/config"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/metrics"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/token"
)

const (
	TransportNative  = "native"
	TransportGeneric = "generic"

	headerAPIVersion = "X-Midlands-API-Version"
	headerHyperEx    = "X-Hyper-Ex"
	headerTimezone   = "X-Timezone-Id"
)

// NativeTransport issues a GET from inside the brokerage page with the
// page's ambient credentials.
type NativeTransport interface {
	PageFetch(ctx context.Context, rawURL string, headers map[string]string) (cdpcontrol.PageResponse, error)
}

// Installer hooks the interceptor into every primitive; repeated calls are
// no-ops once hooked.
type Installer interface {
	Install(ctx context.Context) int
}

type Options struct {
	APIBase        string
	Origin         string
	APIVersion     string
	AcceptLanguage string
	UserAgent      string
	Timezone       string
	HTTPTimeout    time.Duration

	RatingsBatchSize  int
	RateLimitEvery    int
	RateLimitDelay    time.Duration
	TokenPollAttempts int
	TokenPollInterval time.Duration

	// HTTPClient backs the generic transport. Registering it with the
	// capture installer puts the interceptor in front of it.
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// OptionsFromConfig maps exporter settings onto client options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		APIBase:           cfg.APIBase,
		Origin:            cfg.Origin,
		APIVersion:        cfg.APIVersion,
		AcceptLanguage:    cfg.AcceptLanguage,
		UserAgent:         cfg.UserAgent,
		Timezone:          cfg.Timezone,
		HTTPTimeout:       cfg.HTTPTimeout,
		RatingsBatchSize:  cfg.RatingsBatchSize,
		RateLimitEvery:    cfg.RateLimitEvery,
		RateLimitDelay:    cfg.RateLimitDelay,
		TokenPollAttempts: cfg.TokenPollAttempts,
		TokenPollInterval: cfg.TokenPollInterval,
	}
}

type Client struct {
	opts      Options
	tokens    *token.Cache
	installer Installer
	native    NativeTransport
	generic   *resty.Client
	metrics   *metrics.Metrics

	// hostZone is used until the tab reports its own zone.
	hostZone string
	zoneMu   sync.Mutex
	pageZone string

	// sleep is swapped in tests so pauses are counted instead of waited.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a client. native and installer may be nil; without a native
// transport every call goes through the generic one.
func New(tokens *token.Cache, installer Installer, native NativeTransport, opts Options) *Client {
	if opts.APIBase == "" {
		opts.APIBase = config.DefaultAPIBase
	}
	if opts.Origin == "" {
		opts.Origin = config.DefaultOrigin
	}
	if opts.APIVersion == "" {
		opts.APIVersion = config.DefaultAPIVersion
	}
	if opts.AcceptLanguage == "" {
		opts.AcceptLanguage = config.DefaultAcceptLang
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.RatingsBatchSize <= 0 {
		opts.RatingsBatchSize = 50
	}
	if opts.RateLimitEvery <= 0 {
		opts.RateLimitEvery = 10
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	generic := resty.NewWithClient(opts.HTTPClient).
		SetTimeout(opts.HTTPTimeout).
		SetRetryCount(0)

	return &Client{
		opts:      opts,
		tokens:    tokens,
		installer: installer,
		native:    native,
		generic:   generic,
		metrics:   opts.Metrics,
		hostZone:  resolveTimezone(opts.Timezone),
		sleep:     sleepContext,
	}
}

func (c *Client) baseHeaders() map[string]string {
	return map[string]string{
		"Accept":          "*/*",
		"Accept-Language": c.opts.AcceptLanguage,
		"Origin":          c.opts.Origin,
		"Referer":         c.opts.Origin + "/",
		headerAPIVersion:  c.opts.APIVersion,
	}
}

// Request issues a GET and returns the body of a 2xx response. Authenticated
// calls try the page's own fetch first and fall back to the generic transport.
func (c *Client) Request(ctx context.Context, rawURL string, requiresAuth bool) ([]byte, error) {
	headers := c.baseHeaders()
	if !requiresAuth {
		return c.genericGet(ctx, rawURL, headers)
	}

	if c.installer != nil {
		c.installer.Install(ctx)
	}
	tok, err := c.waitForToken(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		slog.Warn("upstream auth token not captured yet, continuing with page credentials", "url", rawURL)
	} else {
		headers["Authorization"] = tok
	}
	headers[headerHyperEx] = "enabled"
	headers[headerTimezone] = c.timezone(ctx)

	if c.native != nil {
		body, err := c.nativeGet(ctx, rawURL, headers)
		if err == nil {
			return body, nil
		}
		if StatusOf(err) == http.StatusUnauthorized && tok == "" {
			slog.Warn("upstream 401 without a captured token; let the page finish loading and retry", "url", rawURL)
		}
		slog.Warn("upstream page fetch failed, falling back to direct request", "url", rawURL, "error", err)
	}
	return c.genericGet(ctx, rawURL, headers)
}

// waitForToken polls the token cache a bounded number of times, re-running
// the install routine between polls.
func (c *Client) waitForToken(ctx context.Context) (string, error) {
	if tok, ok := c.tokens.Get(); ok {
		return tok, nil
	}
	for i := 0; i < c.opts.TokenPollAttempts; i++ {
		if err := c.sleep(ctx, c.opts.TokenPollInterval); err != nil {
			return "", err
		}
		if c.installer != nil {
			c.installer.Install(ctx)
		}
		if tok, ok := c.tokens.Get(); ok {
			return tok, nil
		}
	}
	return "", nil
}

func (c *Client) nativeGet(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	resp, err := c.native.PageFetch(ctx, rawURL, headers)
	if err == nil && (resp.Status < 200 || resp.Status >= 300) {
		err = &HTTPError{Status: resp.Status, Body: resp.Body}
	}
	c.metrics.UpstreamRequest(TransportNative, err)
	if err != nil {
		return nil, err
	}
	return []byte(resp.Body), nil
}

func (c *Client) genericGet(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	resp, err := c.generic.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("User-Agent", c.opts.UserAgent).
		Get(rawURL)
	if err != nil {
		err = fmt.Errorf("upstream: GET %s: %w", rawURL, err)
	} else if !resp.IsSuccess() {
		err = &HTTPError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	c.metrics.UpstreamRequest(TransportGeneric, err)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// ZoneSource reports the IANA zone of the brokerage tab. Native transports
// that implement it supply the timezone header.
type ZoneSource interface {
	PageTimezone(ctx context.Context) (string, error)
}

// timezone prefers the tab's zone, cached after the first answer, and falls
// back to the host zone.
func (c *Client) timezone(ctx context.Context) string {
	c.zoneMu.Lock()
	zone := c.pageZone
	c.zoneMu.Unlock()
	if zone != "" {
		return zone
	}

	src, ok := c.native.(ZoneSource)
	if !ok {
		return c.hostZone
	}
	zone, err := src.PageTimezone(ctx)
	if err != nil || !validZone(zone) {
		slog.Debug("upstream page timezone unavailable, using host zone", "host_zone", c.hostZone, "page_zone", zone, "error", err)
		return c.hostZone
	}
	c.zoneMu.Lock()
	c.pageZone = zone
	c.zoneMu.Unlock()
	return zone
}

// readLocaltime returns the /etc/localtime symlink target.
var readLocaltime = func() (string, error) { return os.Readlink("/etc/localtime") }

// resolveTimezone names the host zone from TZ, then the /etc/localtime link
// target, then fallback.
func resolveTimezone(fallback string) string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); validZone(tz) {
		return tz
	}
	if target, err := readLocaltime(); err == nil {
		if i := strings.LastIndex(target, "zoneinfo/"); i >= 0 {
			if zone := target[i+len("zoneinfo/"):]; validZone(zone) {
				return zone
			}
		}
	}
	if fallback == "" {
		return config.DefaultTimezone
	}
	return fallback
}

func validZone(name string) bool {
	if name == "" || name == "Local" || strings.HasPrefix(name, "/") {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
