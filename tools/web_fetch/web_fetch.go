// Package web_fetch retrieves a page and extracts its readable text.
package web_fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/alphy/tools/web_fetch/models"
	"github.com/mohammad-safakhou/alphy/utils"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, link string) (models.Result, error)
}

// Fetcher does a plain HTTP GET and runs readability extraction. Pages
// that need JS rendering come back mostly empty; callers treat that as
// a thin result, not an error.
type Fetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxChars int
}

func NewFetcher(timeout time.Duration, maxChars int) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	return &Fetcher{Client: http.DefaultClient, Timeout: timeout, MaxChars: maxChars}
}

func (f *Fetcher) Exec(ctx context.Context, link string) (models.Result, error) {
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return models.Result{}, fmt.Errorf("invalid url %q", link)
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", link, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", "alphy-research/1.0")
	resp, err := f.Client.Do(req)
	if err != nil {
		return models.Result{}, fmt.Errorf("fetching %s: %w", link, err)
	}
	defer resp.Body.Close()

	out := models.Result{URL: link, Status: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("fetching %s: status %d", link, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return out, fmt.Errorf("extracting %s: %w", link, err)
	}
	out.Title = article.Title
	out.Byline = article.Byline
	out.Text = utils.Truncate(strings.TrimSpace(article.TextContent), f.MaxChars)
	return out, nil
}
