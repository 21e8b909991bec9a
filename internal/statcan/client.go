// Package statcan fetches 2016 Census Profile tables from the Statistics
// Canada REST API using a Colly collector.
package statcan

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

// DefaultBaseURL is the Census Profile 2016 JSON endpoint.
const DefaultBaseURL = "https://www12.statcan.gc.ca/rest/census-recensement/CPR2016.json"

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps response bodies in bytes; zero keeps Colly's default.
	MaxBodySize int
}

// Client implements the fetcher's profile source against the Census Profile API.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// result collects what the collector callbacks observed for one request.
type result struct {
	status int
	body   []byte
	err    error
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}

	return &Client{
		cfg:           cfg,
		baseCollector: c,
	}
}

// ProfileURL returns the request URL for one dguid.
func (c *Client) ProfileURL(id census.ProfileID) string {
	return fmt.Sprintf("%s?lang=E&dguid=%s&topic=0&notes=0&stat=0", c.cfg.BaseURL, url.QueryEscape(id.String()))
}

// FetchProfile downloads and decodes the profile for id. A body that does not
// decode as a profile yields ErrUnparsableResponse; transport failures and
// non-success statuses are returned as other errors.
func (c *Client) FetchProfile(ctx context.Context, id census.ProfileID) (*census.Profile, error) {
	body, err := c.get(ctx, c.ProfileURL(id))
	if err != nil {
		return nil, err
	}
	return DecodeProfile(id, body)
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	var res result
	collector := c.baseCollector.Clone()
	c.configureCollectorHooks(collector, &res)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("census api request canceled: %w", ctx.Err())
	case err := <-done:
		if res.err == nil {
			res.err = err
		}
	}

	if res.err != nil {
		if res.status != 0 {
			return nil, fmt.Errorf("census api returned status %d: %w", res.status, res.err)
		}
		return nil, fmt.Errorf("census api request failed: %w", res.err)
	}
	return res.body, nil
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, res *result) {
	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		res.err = err
		if r != nil {
			res.status = r.StatusCode
		}
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
