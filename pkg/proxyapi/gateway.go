// Package proxyapi fetches the categorized proxy catalog from the upstream
// API through the shared read-through cache.
package proxyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/polisai/proxydrop/internal/governance"
	"github.com/polisai/proxydrop/pkg/cache"
	"github.com/polisai/proxydrop/pkg/domain"
	"github.com/polisai/proxydrop/pkg/telemetry"
)

// DefaultMaxBodyBytes caps how much of an upstream response is read.
const DefaultMaxBodyBytes int64 = 16 << 20

// Options configures a Gateway.
type Options struct {
	URL          string
	Client       *http.Client
	Cache        *cache.ReadThrough
	Timeouts     *governance.TimeoutManager
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
	MaxBodyBytes int64
}

// Gateway fetches the proxy catalog from one upstream URL. It is safe for
// concurrent use.
type Gateway struct {
	url      string
	client   *http.Client
	cache    *cache.ReadThrough
	timeouts *governance.TimeoutManager
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	maxBody  int64
}

// NewGateway validates opts and creates a Gateway. Missing collaborators get
// defaults: an in-memory cache with the two hour window, the default request
// timeout and an otelhttp-instrumented client.
func NewGateway(opts Options) (*Gateway, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: upstream url %q must be an absolute http(s) url", domain.ErrConfigInvalid, opts.URL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	rt := opts.Cache
	if rt == nil {
		rt = cache.NewReadThrough(cache.NewMemoryStore(), cache.DefaultTTL, logger)
	}

	timeouts := opts.Timeouts
	if timeouts == nil {
		timeouts = governance.NewTimeoutManager(governance.DefaultTimeoutConfig())
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &Gateway{
		url:      opts.URL,
		client:   client,
		cache:    rt,
		timeouts: timeouts,
		metrics:  opts.Metrics,
		logger:   logger,
		maxBody:  maxBody,
	}, nil
}

// URL returns the upstream URL, which is also the cache key.
func (g *Gateway) URL() string {
	return g.url
}

// Fetch returns the current catalog. Every failure, whether transport, status,
// decoding or an upstream success=false, is returned as an error wrapping
// domain.ErrUpstreamUnavailable. Nothing is retried.
func (g *Gateway) Fetch(ctx context.Context) (domain.ProxyCatalog, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "proxyapi.fetch")
	defer span.End()

	start := time.Now()
	body, source, err := g.cache.Get(ctx, g.url, g.load)
	if err == nil {
		var catalog domain.ProxyCatalog
		catalog, err = decode(body)
		if err == nil {
			g.metrics.RecordUpstreamFetch(string(source), time.Since(start))
			span.SetAttributes(attribute.String("proxyapi.cache", string(source)))
			g.logger.DebugContext(ctx, "proxy catalog fetched",
				"source", source,
				"http", len(catalog.HTTP),
				"https", len(catalog.HTTPS),
				"socks4", len(catalog.SOCKS4),
				"socks5", len(catalog.SOCKS5),
			)
			return catalog, nil
		}
	}

	result := "error"
	if governance.IsTimeout(err) {
		result = "timeout"
	}
	g.metrics.RecordUpstreamFetch(result, time.Since(start))
	span.RecordError(err)
	span.SetStatus(codes.Error, result)
	g.logger.WarnContext(ctx, "proxy catalog unavailable", "result", result, "error", err)

	return domain.ProxyCatalog{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
}

// load performs the single outbound request on a cache miss and returns the
// body only if it decodes as a successful catalog.
func (g *Gateway) load(ctx context.Context) ([]byte, error) {
	ctx, cancel := g.timeouts.WithRequestTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "max-age="+strconv.Itoa(int(g.cache.TTL().Seconds())))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > g.maxBody {
		return nil, fmt.Errorf("upstream body exceeds %d bytes", g.maxBody)
	}

	if _, err := decode(body); err != nil {
		return nil, err
	}
	return body, nil
}

type upstreamResponse struct {
	Success    bool      `json:"success"`
	UpdateTime int64     `json:"update_time"`
	Count      int       `json:"count"`
	HTTP       *[]string `json:"http"`
	HTTPS      *[]string `json:"https"`
	SOCKS4     *[]string `json:"socks4"`
	SOCKS5     *[]string `json:"socks5"`
}

var errUpstreamUnsuccessful = errors.New("upstream reported success=false")

func decode(body []byte) (domain.ProxyCatalog, error) {
	var resp upstreamResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ProxyCatalog{}, fmt.Errorf("decode upstream body: %w", err)
	}
	if !resp.Success {
		return domain.ProxyCatalog{}, errUpstreamUnsuccessful
	}
	if resp.HTTP == nil || resp.HTTPS == nil || resp.SOCKS4 == nil || resp.SOCKS5 == nil {
		return domain.ProxyCatalog{}, errors.New("decode upstream body: missing proxy category")
	}

	return domain.ProxyCatalog{
		HTTP:   *resp.HTTP,
		HTTPS:  *resp.HTTPS,
		SOCKS4: *resp.SOCKS4,
		SOCKS5: *resp.SOCKS5,
	}, nil
}
