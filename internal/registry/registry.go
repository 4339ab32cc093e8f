// Package registry resolves releases and their platform assets from a
// GitHub-compatible release registry.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/adamancini/appupdater/internal/config"
	uerrors "github.com/adamancini/appupdater/internal/errors"
	"github.com/adamancini/appupdater/internal/logging"
)

// ErrNotFound reports that the requested release or asset does not exist.
// Absence of a release is an expected state, not a failure.
var ErrNotFound = errors.New("not found")

// Release represents a release response.
type Release struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	HTMLURL string  `json:"html_url"`
	Assets  []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// ReleaseAsset is the resolved distributable for one platform.
type ReleaseAsset struct {
	FileName    string
	DownloadURL string
}

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry returned status %d for %s", e.Code, e.URL)
}

// Client talks to the release registry.
type Client struct {
	baseURL        string
	token          string // Optional, for rate limiting
	assetExt       string
	userAgent      string
	probeTimeout   time.Duration
	releaseTimeout time.Duration
	retryMax       int
	retryInitial   time.Duration
	client         *http.Client
	logger         *log.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Entry) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a registry client from the configuration.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(cfg.Registry.BaseURL, "/"),
		token:          cfg.Registry.Token,
		assetExt:       cfg.Registry.AssetExt,
		userAgent:      "updater",
		probeTimeout:   cfg.Timeouts.Probe,
		releaseTimeout: cfg.Timeouts.Release,
		retryMax:       cfg.Retry.Max,
		retryInitial:   cfg.Retry.Initial,
		client:         &http.Client{},
		logger:         logging.Component("registry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the registry root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AssetName returns the exact file name an asset must carry to match.
func (c *Client) AssetName(app, version, platform string) string {
	return fmt.Sprintf("%s-%s-%s%s", app, version, platform, c.assetExt)
}

// Probe issues a lightweight GET against the registry root. Any HTTP
// response counts as connectivity. It returns the round-trip latency.
func (c *Client) Probe(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return 0, uerrors.New(uerrors.KindConnectivity, "build probe request", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, uerrors.New(uerrors.KindConnectivity, "registry unreachable", err)
	}
	resp.Body.Close()

	return time.Since(start), nil
}

// ResolveVersion returns the tag of the latest release of owner/app.
func (c *Client) ResolveVersion(ctx context.Context, owner, app string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, url.PathEscape(owner), url.PathEscape(app))

	var release Release
	if err := c.getJSON(ctx, endpoint, &release); err != nil {
		return "", c.classify(err, fmt.Sprintf("latest release of %s/%s", owner, app))
	}

	if release.TagName == "" {
		return "", uerrors.New(uerrors.KindResolution, fmt.Sprintf("latest release of %s/%s has no tag", owner, app), ErrNotFound)
	}

	return release.TagName, nil
}

// FetchRelease returns the release tagged version.
func (c *Client) FetchRelease(ctx context.Context, owner, app, version string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		c.baseURL, url.PathEscape(owner), url.PathEscape(app), url.PathEscape(version))

	var release Release
	if err := c.getJSON(ctx, endpoint, &release); err != nil {
		return nil, c.classify(err, fmt.Sprintf("release %s of %s/%s", version, owner, app))
	}
	return &release, nil
}

// ResolveAsset finds the asset named exactly {app}-{version}-{platform}{ext}
// in the release tagged version.
func (c *Client) ResolveAsset(ctx context.Context, owner, app, version, platform string) (ReleaseAsset, error) {
	release, err := c.FetchRelease(ctx, owner, app, version)
	if err != nil {
		return ReleaseAsset{}, err
	}

	target := c.AssetName(app, version, platform)
	if asset, ok := FindAsset(release, target); ok {
		return asset, nil
	}

	return ReleaseAsset{}, uerrors.New(uerrors.KindResolution, fmt.Sprintf("asset %s not in release %s", target, version), ErrNotFound)
}

// FindAsset returns the asset whose name equals target exactly.
func FindAsset(release *Release, target string) (ReleaseAsset, bool) {
	for _, a := range release.Assets {
		if a.Name == target && a.BrowserDownloadURL != "" {
			return ReleaseAsset{FileName: a.Name, DownloadURL: a.BrowserDownloadURL}, true
		}
	}
	return ReleaseAsset{}, false
}

// classify maps a request failure onto the error taxonomy. Non-success
// statuses become ErrNotFound.
func (c *Client) classify(err error, what string) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		c.logger.Debugf("%s: %v", what, statusErr)
		return uerrors.New(uerrors.KindResolution, fmt.Sprintf("%s not found (status %d)", what, statusErr.Code), ErrNotFound)
	}
	if uerrors.KindOf(err) != uerrors.KindUnknown {
		return err
	}
	return uerrors.New(uerrors.KindResolution, what, err)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	expBackOff := &backoff.ExponentialBackOff{
		InitialInterval:     c.retryInitial,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	return backoff.WithContext(backoff.WithMaxRetries(expBackOff, uint64(c.retryMax)), ctx)
}

// getJSON performs an idempotent GET and decodes the body into v. Only
// 500/502/503/504 responses are retried; each attempt has its own timeout.
func (c *Client) getJSON(ctx context.Context, endpoint string, v interface{}) error {
	operation := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.releaseTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.setHeaders(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(uerrors.New(uerrors.KindConnectivity, "registry request failed", err))
		}
		defer resp.Body.Close()

		if retryableStatus(resp.StatusCode) {
			return &StatusError{URL: endpoint, Code: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(&StatusError{URL: endpoint, Code: resp.StatusCode})
		}

		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Debugf("Retrying in %s: %v", next, err)
	}

	return backoff.RetryNotify(operation, c.newBackOff(ctx), notify)
}
