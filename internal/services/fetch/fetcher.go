package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	maxBodySize      = 32 * 1024 * 1024 // 32 MB cap on feed payloads
)

// Service fetches raw feed payloads over HTTP. Requests to the same host are
// rate limited for politeness; distinct hosts fetch independently.
type Service struct {
	client    *http.Client
	logger    arbor.ILogger
	userAgent string

	rateDelay time.Duration
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
}

// NewService creates a feed fetcher. timeout bounds each request; rateDelay
// is the minimum spacing between requests to one host (0 disables limiting).
func NewService(timeout, rateDelay time.Duration, logger arbor.ILogger) interfaces.FeedFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		client: &http.Client{
			Timeout: timeout,
		},
		logger:    logger,
		userAgent: defaultUserAgent,
		rateDelay: rateDelay,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Fetch performs an HTTP GET for the feed URL. Any HTTP error status,
// network failure, or timeout surfaces as an error.
func (s *Service) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	start := time.Now()

	if err := s.waitForHost(ctx, feedURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", feedURL, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("url", feedURL).
			Str("duration", time.Since(start).Round(time.Millisecond).String()).
			Msg("Feed fetch failed")
		return nil, fmt.Errorf("failed to fetch from %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Warn().
			Str("url", feedURL).
			Int("status", resp.StatusCode).
			Msg("Feed fetch returned error status")
		return nil, fmt.Errorf("failed to fetch from %s: HTTP %d %s", feedURL, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", feedURL, err)
	}

	s.logger.Info().
		Str("url", feedURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Str("duration", time.Since(start).Round(time.Millisecond).String()).
		Msg("Feed fetched")

	return data, nil
}

// waitForHost blocks until the per-host limiter admits the request.
func (s *Service) waitForHost(ctx context.Context, feedURL string) error {
	if s.rateDelay <= 0 {
		return nil
	}

	u, err := url.Parse(feedURL)
	if err != nil {
		return fmt.Errorf("invalid feed URL %s: %w", feedURL, err)
	}

	s.mu.Lock()
	limiter, ok := s.limiters[u.Host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.rateDelay), 1)
		s.limiters[u.Host] = limiter
	}
	s.mu.Unlock()

	return limiter.Wait(ctx)
}
