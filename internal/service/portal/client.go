// Package portal talks to the university food-reservation portal: the
// redirect-driven sign-in handshake, the weekly schedule and reservation
// submission. One Client holds one user's cookies and anti-forgery token and
// must never be shared between users.
package portal

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	"github.com/zhouzirui/foodbot/internal/apperrors"
	"github.com/zhouzirui/foodbot/internal/metrics"
)

const (
	DefaultBaseURL   = "https://food.gums.ac.ir"
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

	loginPath       = "/identity/login"
	reservationPath = "/api/v0/Reservation"
	scheduleQuery   = "lastdate=&navigation=0"
	xsrfHeader      = "X-XSRF-Token"

	maxBodyBytes = 4 << 20
)

// ErrInvalidCredentials is returned by Authenticate when the portal rejects
// the username or password. It is an expected outcome, not a fault.
var ErrInvalidCredentials = errors.New("portal rejected the credentials")

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// Client is a single user's portal session.
type Client struct {
	cfg  Config
	base *url.URL

	// follow and direct share one cookie jar; direct does not follow redirects.
	follow *http.Client
	direct *http.Client

	mu     sync.RWMutex
	xsrf   string
	closed bool
}

// New creates an unauthenticated client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid portal base url %q", cfg.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cookie jar")
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		cfg:  cfg,
		base: base,
		follow: &http.Client{
			Jar:       jar,
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		direct: &http.Client{
			Jar:       jar,
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Authenticated reports whether the handshake completed and the client is open.
func (c *Client) Authenticated() bool {
	return c.token() != ""
}

// Close drops the anti-forgery token and idle connections. The client cannot
// be used afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	c.xsrf = ""
	c.closed = true
	c.mu.Unlock()
	c.follow.CloseIdleConnections()
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ""
	}
	return c.xsrf
}

func (c *Client) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return c.base.ResolveReference(u), nil
}

// roundTrip sends req and reads the whole body. Network faults and timeouts
// become Transport errors.
func (c *Client) roundTrip(hc *http.Client, op string, req *http.Request) (*http.Response, []byte, error) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, nil, apperrors.NewTransport(op, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, apperrors.NewTransport(op, errors.Wrap(err, "failed to read response body"))
	}

	log.WithFields(log.Fields{
		"op":     op,
		"method": req.Method,
		"path":   req.URL.Path,
		"status": resp.StatusCode,
	}).Debug("portal response")
	return resp, body, nil
}

// statusError classifies an unexpected HTTP status.
func statusError(op string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.New(apperrors.NotAuthenticated, op, errors.Errorf("portal answered %d", status))
	default:
		return apperrors.NewTransport(op, errors.Errorf("portal answered %d", status))
	}
}

func record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredentials):
		result = "rejected"
	default:
		result = apperrors.KindOf(err).String()
	}
	metrics.PortalRequests.WithLabelValues(op, result).Inc()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
