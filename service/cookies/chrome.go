package cookies

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/koinly-export/client"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// DefaultCookieDomain selects the cookies sent to the Koinly API.
const DefaultCookieDomain = "koinly.io"

// ChromeSource reads the session cookies of a Chrome instance that is already
// logged in to Koinly, through its remote debugging websocket
// (chrome --remote-debugging-port=9222). It never navigates or logs in.
type ChromeSource struct {
	DebugURL string
	Domain   string        // defaults to DefaultCookieDomain
	Timeout  time.Duration // defaults to 15s
	Logger   *slog.Logger
}

func (s ChromeSource) Credentials(ctx context.Context) (*client.Credentials, error) {
	if s.DebugURL == "" {
		return nil, ErrNoCredentials
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	domain := s.Domain
	if domain == "" {
		domain = DefaultCookieDomain
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, s.DebugURL)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	logger.DebugContext(ctx, "reading cookies from chrome", "debug_url", s.DebugURL, "domain", domain)

	all, err := extractCookies(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chrome cookies: %w", err)
	}

	header := HeaderFromCookies(all, domain)
	if header == "" {
		return nil, fmt.Errorf("chrome has no cookies for %s; log in to Koinly in that browser first", domain)
	}
	logger.InfoContext(ctx, "loaded cookies from chrome", "cookies", strings.Count(header, ";")+1)

	return FromHeader(header)
}

// extractCookies reads every cookie in the browser's store, not only those of
// the current tab.
func extractCookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			result, err := storage.GetCookies().Do(ctx)
			if err != nil {
				return err
			}
			cookies = result
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

// HeaderFromCookies formats the cookies whose domain contains domain as a
// Cookie header.
func HeaderFromCookies(cookies []*network.Cookie, domain string) string {
	var parts []string
	for _, cookie := range cookies {
		if cookie == nil || !strings.Contains(cookie.Domain, domain) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", cookie.Name, cookie.Value))
	}
	return strings.Join(parts, "; ")
}
