// Package divar implements search.Provider on top of the Divar web API.
package divar

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
)

const (
	DefaultBaseURL     = "https://api.divar.ir"
	DefaultPostBaseURL = "https://divar.ir/v"
	DefaultTimeout     = 15 * time.Second

	siteOrigin = "https://divar.ir"
)

// Config configures the Divar client.
type Config struct {
	BaseURL     string        `mapstructure:"base_url"`
	PostBaseURL string        `mapstructure:"post_base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Parallelism int           `mapstructure:"parallelism"`
	RandomDelay time.Duration `mapstructure:"random_delay"`
	// UserAgent pins the User-Agent header; empty rotates real browser agents.
	UserAgent string `mapstructure:"user_agent"`
}

// Client talks to the Divar API. Every call works on a clone of the parent
// collector so that limits are shared and callbacks are not.
type Client struct {
	collector   *colly.Collector
	baseURL     string
	postBaseURL string
	rotateUA    bool
	log         *slog.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PostBaseURL == "" {
		cfg.PostBaseURL = DefaultPostBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Hostname() == "" {
		return nil, fmt.Errorf("divar: invalid base url %q", cfg.BaseURL)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(base.Hostname()),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(cfg.Timeout)

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  base.Hostname(),
		Parallelism: cfg.Parallelism,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("divar: set limit rule: %w", err)
	}

	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Client{
		collector:   c,
		rotateUA:    cfg.UserAgent == "",
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		postBaseURL: strings.TrimRight(cfg.PostBaseURL, "/"),
		log:         log.With(slog.String("component", "divar")),
	}, nil
}

// clone returns a single-use collector. Clones share the transport and limits
// of the parent but not its callbacks, so headers are attached per clone.
func (c *Client) clone() *colly.Collector {
	col := c.collector.Clone()
	if c.rotateUA {
		extensions.RandomUserAgent(col)
	}
	col.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json, text/plain, */*")
		r.Headers.Set("Origin", siteOrigin)
		r.Headers.Set("Referer", siteOrigin+"/")
	})
	return col
}
