package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	Timeout   = 45 * time.Second

	// MaxBodyBytes caps how much of a response is parsed
	MaxBodyBytes = 8 << 20
)

// ErrStatus is matched by every *StatusError
var ErrStatus = errors.New("unexpected status code")

// StatusError reports a non-2xx response
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d from %s", ErrStatus, e.Code, e.URL)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Fetcher returns the visible text of the page at url
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// noise lists the elements whose text never describes events
const noise = "script, style, nav, header, footer, aside, svg, noscript, iframe, template"

// HTTPFetcher fetches pages over plain HTTP
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	renderDelay time.Duration
}

// Option configures an HTTPFetcher
type Option func(*HTTPFetcher)

// WithClient replaces the HTTP client
func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithRenderDelay waits d after the response headers arrive before the body
// is read, for servers that stream late content.
func WithRenderDelay(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.renderDelay = d }
}

// New creates a new HTTPFetcher
func New(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: Timeout,
		},
		userAgent: UserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: url, Code: resp.StatusCode}
	}

	if f.renderDelay > 0 {
		t := time.NewTimer(f.renderDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}

	return VisibleText(io.LimitReader(resp.Body, MaxBodyBytes))
}

// VisibleText parses HTML and returns its human-visible text
func VisibleText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	doc.Find(noise).Remove()

	var parts []string
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, child *goquery.Selection) {
			switch goquery.NodeName(child) {
			case "#text":
				if text := strings.Join(strings.Fields(child.Text()), " "); text != "" {
					parts = append(parts, text)
				}
			case "#comment":
			default:
				walk(child)
			}
		})
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	walk(root)

	return strings.Join(parts, " "), nil
}
