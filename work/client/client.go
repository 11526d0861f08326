package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/metrics"
	"media-relay/work/types"
	"media-relay/work/utils"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// maxTextSize bounds how much of a text response is read into memory.
const maxTextSize = 8 << 20

// HeaderSettingClient wraps http.Client to set browser-like headers on every request
// and apply a per-host outbound rate limit.
type HeaderSettingClient struct {
	Client     *http.Client
	noRedirect *http.Client
	config     *config.Config
	limiters   *xsync.MapOf[string, ratelimit.Limiter]
}

// NewHeaderSettingClient builds the shared upstream client.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.StreamTimeout, // Only timeout for headers, bodies may stream for long
	}

	return &HeaderSettingClient{
		Client: &http.Client{Transport: transport},
		noRedirect: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config:   cfg,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// Do sets the default headers, waits on the host's rate limiter and executes req.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	return hsc.do(hsc.Client, req)
}

func (hsc *HeaderSettingClient) do(c *http.Client, req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	hsc.limiterFor(req.URL.Host).Take()

	resp, err := c.Do(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(req.URL.Host, "network").Inc()
		logger.Debug("{client/client - do} %s %s failed: %v", req.Method, utils.LogURL(hsc.config, req.URL.String()), err)
		return nil, fmt.Errorf("%w: %v", types.ErrUpstream, err)
	}
	metrics.UpstreamRequests.WithLabelValues(req.URL.Host, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	return resp, nil
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", hsc.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	if req.Header.Get("Referer") == "" && hsc.config.GetSourceByHost(req.URL.Host) != nil {
		req.Header.Set("Referer", req.URL.Scheme+"://"+req.URL.Host+"/")
	}
}

// limiterFor returns the limiter of host, creating it on first use. Hosts that are not
// configured sources (media CDNs) are not limited.
func (hsc *HeaderSettingClient) limiterFor(host string) ratelimit.Limiter {
	limiter, _ := hsc.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		if src := hsc.config.GetSourceByHost(host); src != nil && src.RateLimit > 0 {
			logger.Debug("{client/client - limiterFor} Created rate limiter for %s: %d req/sec", host, src.RateLimit)
			return ratelimit.New(src.RateLimit)
		}
		return ratelimit.NewUnlimited()
	})
	return limiter
}

// GetResponse issues a GET with optional extra headers. Non-2xx responses are returned
// as-is; the caller owns the body.
func (hsc *HeaderSettingClient) GetResponse(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	req, err := newRequest(ctx, http.MethodGet, rawURL, nil, header)
	if err != nil {
		return nil, err
	}
	return hsc.Do(req)
}

// GetLocation issues a GET without following redirects and returns the Location header
// of a 3xx response.
func (hsc *HeaderSettingClient) GetLocation(ctx context.Context, rawURL string, header http.Header) (string, error) {
	req, err := newRequest(ctx, http.MethodGet, rawURL, nil, header)
	if err != nil {
		return "", err
	}
	resp, err := hsc.do(hsc.noRedirect, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: expected redirect, got HTTP %d", types.ErrUpstream, resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w: redirect without location", types.ErrUpstream)
	}
	return location, nil
}

// GetWithCookieRetry performs a GET and, if the upstream answers 403 with a Set-Cookie
// header, retries exactly once carrying that cookie. It is deliberately not a loop: the
// second response is returned whatever its status.
func (hsc *HeaderSettingClient) GetWithCookieRetry(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	resp, err := hsc.GetResponse(ctx, rawURL, header)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		return resp, err
	}

	cookie := CookieHeader(resp.Header.Values("Set-Cookie"))
	drain(resp)
	if cookie == "" {
		return nil, fmt.Errorf("%w: HTTP 403 without cookie", types.ErrUpstream)
	}

	logger.Debug("{client/client - GetWithCookieRetry} 403 from %s, retrying once with captured cookie", utils.LogURL(hsc.config, rawURL))
	metrics.CookieRetries.WithLabelValues(hostOf(rawURL)).Inc()

	retryHeader := header.Clone()
	if retryHeader == nil {
		retryHeader = http.Header{}
	}
	retryHeader.Set("Cookie", cookie)
	return hsc.GetResponse(ctx, rawURL, retryHeader)
}

// CookieHeader turns Set-Cookie values into a Cookie request header value.
func CookieHeader(setCookies []string) string {
	pairs := make([]string, 0, len(setCookies))
	for _, sc := range setCookies {
		pair, _, _ := strings.Cut(sc, ";")
		pair = strings.TrimSpace(pair)
		if pair != "" && strings.Contains(pair, "=") {
			pairs = append(pairs, pair)
		}
	}
	return strings.Join(pairs, "; ")
}

// GetText fetches rawURL as text under the configured hard timeout. Any failure,
// including the timeout and non-2xx statuses, yields ok=false.
func (hsc *HeaderSettingClient) GetText(ctx context.Context, rawURL string) (string, bool) {
	return hsc.text(ctx, rawURL, func(ctx context.Context) (*http.Response, error) {
		return hsc.GetResponse(ctx, rawURL, nil)
	})
}

// GetTextWithCookieRetry is GetText using the one-shot 403 cookie retry.
func (hsc *HeaderSettingClient) GetTextWithCookieRetry(ctx context.Context, rawURL string) (string, bool) {
	return hsc.text(ctx, rawURL, func(ctx context.Context) (*http.Response, error) {
		return hsc.GetWithCookieRetry(ctx, rawURL, nil)
	})
}

func (hsc *HeaderSettingClient) text(ctx context.Context, rawURL string, fetch func(context.Context) (*http.Response, error)) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, hsc.config.FetchTimeout)
	defer cancel()

	resp, err := fetch(ctx)
	if err != nil {
		logger.Debug("{client/client - text} fetch %s failed: %v", utils.LogURL(hsc.config, rawURL), err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("{client/client - text} HTTP %d from %s", resp.StatusCode, utils.LogURL(hsc.config, rawURL))
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextSize))
	if err != nil {
		logger.Debug("{client/client - text} reading %s failed: %v", utils.LogURL(hsc.config, rawURL), err)
		return "", false
	}
	return string(body), true
}

// GetJSON fetches rawURL and decodes the JSON body into v.
func (hsc *HeaderSettingClient) GetJSON(ctx context.Context, rawURL string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, hsc.config.FetchTimeout)
	defer cancel()

	resp, err := hsc.GetResponse(ctx, rawURL, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	return decodeJSON(resp, v)
}

// PostFormJSON posts form to rawURL and decodes the JSON answer into v.
func (hsc *HeaderSettingClient) PostFormJSON(ctx context.Context, rawURL string, form url.Values, header http.Header, v any) error {
	ctx, cancel := context.WithTimeout(ctx, hsc.config.FetchTimeout)
	defer cancel()

	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Accept", "application/json, text/javascript, */*; q=0.01")

	req, err := newRequest(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), h)
	if err != nil {
		return err
	}
	resp, err := hsc.Do(req)
	if err != nil {
		return err
	}
	return decodeJSON(resp, v)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", types.ErrUpstream, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTextSize)).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding json: %v", types.ErrUpstream, err)
	}
	return nil
}

func newRequest(ctx context.Context, method, rawURL string, body io.Reader, header http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBadRequest, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// drain discards what is left of a body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
