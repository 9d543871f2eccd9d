package builtins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/planexec/planexec/internal/handler"
	"github.com/planexec/planexec/internal/plan"
	"github.com/planexec/planexec/internal/types"
)

const (
	defaultMaxBodyBytes = 2 << 20 // 2 MiB per page
	defaultFetchFanOut  = 4
)

// readURLParams are the parameters accepted by the read_url handler.
type readURLParams struct {
	URLs     []string `param:"urls"`
	Selector string   `param:"selector"`
}

// ReadURLHandler fetches one or more URLs and extracts their text content.
// Fetches fan out concurrently but are bounded and rate limited so a single
// step cannot hammer a host regardless of the engine's own concurrency.
type ReadURLHandler struct {
	client  *http.Client
	limiter *rate.Limiter
	fanOut  int
}

// ReadURLOption is a functional option for configuring ReadURLHandler.
type ReadURLOption func(*ReadURLHandler)

// WithHTTPClient configures the HTTP client used for fetches.
func WithHTTPClient(client *http.Client) ReadURLOption {
	return func(h *ReadURLHandler) {
		if client != nil {
			h.client = client
		}
	}
}

// WithRateLimit configures the request rate limit across all fetches.
func WithRateLimit(limiter *rate.Limiter) ReadURLOption {
	return func(h *ReadURLHandler) {
		if limiter != nil {
			h.limiter = limiter
		}
	}
}

// WithFanOut configures how many URLs are fetched concurrently.
func WithFanOut(n int) ReadURLOption {
	return func(h *ReadURLHandler) {
		if n > 0 {
			h.fanOut = n
		}
	}
}

// NewReadURLHandler creates a ReadURLHandler with the given options.
// Defaults: 30s HTTP timeout, 2 requests/second, fan-out of 4.
func NewReadURLHandler(opts ...ReadURLOption) *ReadURLHandler {
	h := &ReadURLHandler{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		fanOut:  defaultFetchFanOut,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ReadURLHandler) Name() string {
	return "url_reader"
}

func (h *ReadURLHandler) Description() string {
	return "Fetches URLs and extracts readable text content from the HTML."
}

func (h *ReadURLHandler) Types() []plan.StepType {
	return []plan.StepType{plan.StepTypeReadURL}
}

// Execute fetches every URL in the parameter list and concatenates the
// extracted text in the order the URLs were given. Individual fetch
// failures are recorded per URL; the step only fails when no URL could be
// read.
func (h *ReadURLHandler) Execute(ctx context.Context, params map[string]any) (*plan.Payload, error) {
	var p readURLParams
	if err := handler.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.URLs) == 0 {
		return nil, fmt.Errorf("read_url requires at least one url")
	}

	texts := make([]string, len(p.URLs))
	fetchErrs := make([]error, len(p.URLs))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.fanOut)

	for i, url := range p.URLs {
		i, url := i, url
		g.Go(func() error {
			if err := h.limiter.Wait(gctx); err != nil {
				return err
			}
			text, err := h.fetchText(gctx, url, p.Selector)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fetchErrs[i] = err
			} else {
				texts[i] = text
			}
			// Per-URL failures are not group failures.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	errDetails := map[string]any{}
	succeeded := 0
	for i, url := range p.URLs {
		if fetchErrs[i] != nil {
			errDetails[url] = fetchErrs[i].Error()
			continue
		}
		succeeded++
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", url, texts[i])
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("all %d fetches failed: %v", len(p.URLs), errDetails)
	}

	data := map[string]any{
		"urls_requested": len(p.URLs),
		"urls_read":      succeeded,
	}
	if len(errDetails) > 0 {
		data["errors"] = errDetails
	}

	return &plan.Payload{Content: sb.String(), Data: data}, nil
}

// fetchText fetches a single URL and extracts its text. When a CSS
// selector is given only the matching elements contribute.
func (h *ReadURLHandler) fetchText(ctx context.Context, url, selector string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, defaultMaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML from %s: %w", url, err)
	}

	doc.Find("script, style, noscript").Remove()

	root := doc.Selection
	if selector != "" {
		root = doc.Find(selector)
	}

	text := strings.TrimSpace(root.Text())
	return collapseWhitespace(text), nil
}

// collapseWhitespace squeezes runs of blank lines and spaces left behind by
// HTML extraction.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func (h *ReadURLHandler) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("ready")
}
