// Package source fetches product images from the retailer site. A source URL
// may point directly at an image or at an HTML product page; in the page case
// the primary image URL is extracted and fetched in a second request.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"ImageSync/internal/domain"
	"ImageSync/internal/ports"
)

const defaultUserAgent = "ImageSync/1.0"

// Config tunes the fetch client.
type Config struct {
	UserAgent      string
	ProxyURL       string
	Timeout        time.Duration
	MaxAttempts    int
	MaxBodyBytes   int64
	CanonicalHosts map[string]string
}

// HTTPFetcher implements ports.ImageFetcher over the retailer site.
type HTTPFetcher struct {
	client       *http.Client
	breaker      *gobreaker.CircuitBreaker
	userAgent    string
	maxAttempts  int
	maxBodyBytes int64
	canonical    map[string]string
	logger       *slog.Logger
}

var _ ports.ImageFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher wires the HTTP client; nil client gets sensible defaults.
func NewHTTPFetcher(client *http.Client, cfg Config, logger *slog.Logger) (*HTTPFetcher, error) {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.ProxyURL != "" {
			proxy, err := url.Parse(cfg.ProxyURL)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy url %s: %w", cfg.ProxyURL, err)
			}
			transport.Proxy = http.ProxyURL(proxy)
		}
		client = &http.Client{Timeout: timeout, Transport: transport}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 32 << 20
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "source-site",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
	})

	return &HTTPFetcher{
		client:       client,
		breaker:      breaker,
		userAgent:    userAgent,
		maxAttempts:  maxAttempts,
		maxBodyBytes: maxBody,
		canonical:    cfg.CanonicalHosts,
		logger:       logger,
	}, nil
}

// Fetch retrieves the image for a source URL. Transient failures are retried
// with exponential backoff up to MaxAttempts; 4xx responses fail immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) (*domain.Payload, error) {
	target, err := f.normalize(sourceURL)
	if err != nil {
		return nil, domain.Permanent(err)
	}

	body, contentType, err := f.getWithRetry(ctx, target)
	if err != nil {
		return nil, err
	}

	if isHTML(contentType) {
		imageURL, err := extractImageURL(body, target)
		if err != nil {
			return nil, domain.Permanent(fmt.Errorf("page %s: %w", target, err))
		}
		f.debug("resolved page image", "page", target, "image", imageURL)
		target = imageURL
		body, contentType, err = f.getWithRetry(ctx, target)
		if err != nil {
			return nil, err
		}
		if isHTML(contentType) {
			return nil, domain.Permanent(fmt.Errorf("image url %s resolved to another page", target))
		}
	}

	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}

	return &domain.Payload{Body: body, ContentType: contentType, FetchedFrom: target}, nil
}

func (f *HTTPFetcher) getWithRetry(ctx context.Context, target string) ([]byte, string, error) {
	var (
		body        []byte
		contentType string
	)

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(f.maxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		res, err := f.breaker.Execute(func() (interface{}, error) {
			return f.get(ctx, target)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(domain.Transient(fmt.Errorf("source site breaker open: %w", err)))
			}
			if domain.ClassOf(err) == domain.ClassPermanent {
				return backoff.Permanent(err)
			}
			f.debug("retrying fetch", "url", target, "error", err)
			return err
		}
		payload := res.(fetched)
		body, contentType = payload.body, payload.contentType
		return nil
	}, policy)
	if err != nil {
		if domain.ClassOf(err) == domain.ClassPermanent {
			return nil, "", err
		}
		return nil, "", domain.Transient(fmt.Errorf("fetch %s: %w", target, err))
	}
	return body, contentType, nil
}

type fetched struct {
	body        []byte
	contentType string
}

func (f *HTTPFetcher) get(ctx context.Context, target string) (fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fetched{}, domain.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fetched{}, fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fetched{}, domain.Transient(fmt.Errorf("%s returned %s", target, resp.Status))
	default:
		return fetched{}, domain.Permanent(fmt.Errorf("%s returned %s", target, resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return fetched{}, fmt.Errorf("read body of %s: %w", target, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return fetched{}, domain.Permanent(fmt.Errorf("%s exceeds %d bytes", target, f.maxBodyBytes))
	}
	if len(body) == 0 {
		return fetched{}, domain.Permanent(fmt.Errorf("%s returned an empty body", target))
	}

	return fetched{body: body, contentType: mediaType(resp.Header.Get("Content-Type"))}, nil
}

// normalize rewrites regional retailer hosts to the canonical one before the
// request goes out, so the same product never stores under two origins.
func (f *HTTPFetcher) normalize(sourceURL string) (string, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("invalid source url %s: %w", sourceURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme in source url %s", sourceURL)
	}
	if canonical, ok := f.canonical[strings.ToLower(parsed.Host)]; ok {
		parsed.Host = canonical
	}
	return parsed.String(), nil
}

func extractImageURL(page []byte, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	raw, _ := doc.Find(`meta[property="og:image"]`).First().Attr("content")
	if raw == "" {
		raw, _ = doc.Find(`img#landingImage, img.product-image, main img, img`).First().Attr("src")
	}
	if raw == "" {
		return "", errors.New("no image found on page")
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	resolved, err := base.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("resolve image url %s: %w", raw, err)
	}
	return resolved.String(), nil
}

func isHTML(contentType string) bool {
	return strings.HasPrefix(contentType, "text/html") ||
		strings.HasPrefix(contentType, "application/xhtml")
}

func mediaType(header string) string {
	if i := strings.Index(header, ";"); i >= 0 {
		header = header[:i]
	}
	return strings.TrimSpace(strings.ToLower(header))
}

func (f *HTTPFetcher) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
