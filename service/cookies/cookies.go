// Package cookies resolves the Koinly session credentials an export runs
// with: the API_KEY and PORTFOLIO_ID cookies plus the full cookie header.
package cookies

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/koinly-export/client"
)

const (
	// APIKeyCookie carries the session auth token.
	APIKeyCookie = "API_KEY"
	// PortfolioIDCookie carries the active portfolio token.
	PortfolioIDCookie = "PORTFOLIO_ID"
)

// ErrNoCredentials is returned when no credential source is configured.
var ErrNoCredentials = errors.New("no koinly credentials configured")

// Source resolves credentials for one export.
type Source interface {
	Credentials(ctx context.Context) (*client.Credentials, error)
}

// Parse splits a document.cookie style header ("a=b; c=d") into name/value
// pairs. Values keep any '=' they contain. Later duplicates win.
func Parse(header string) map[string]string {
	jar := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		jar[name] = strings.TrimSpace(value)
	}
	return jar
}

// FromHeader builds credentials from a cookie header. Both API_KEY and
// PORTFOLIO_ID must be present and non-empty.
func FromHeader(header string) (*client.Credentials, error) {
	jar := Parse(header)

	var missing []string
	if jar[APIKeyCookie] == "" {
		missing = append(missing, APIKeyCookie)
	}
	if jar[PortfolioIDCookie] == "" {
		missing = append(missing, PortfolioIDCookie)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("cookie header is missing %s", strings.Join(missing, ", "))
	}

	return &client.Credentials{
		APIKey:      jar[APIKeyCookie],
		PortfolioID: jar[PortfolioIDCookie],
		Cookie:      header,
	}, nil
}

// StaticSource resolves credentials from configured values. APIKey and
// PortfolioID override the values found in Header.
type StaticSource struct {
	Header      string
	APIKey      string
	PortfolioID string
}

func (s StaticSource) Credentials(ctx context.Context) (*client.Credentials, error) {
	jar := Parse(s.Header)

	creds := &client.Credentials{
		APIKey:      firstNonEmpty(s.APIKey, jar[APIKeyCookie]),
		PortfolioID: firstNonEmpty(s.PortfolioID, jar[PortfolioIDCookie]),
		Cookie:      s.Header,
	}
	if creds.APIKey == "" && creds.PortfolioID == "" && creds.Cookie == "" {
		return nil, ErrNoCredentials
	}
	if creds.APIKey == "" {
		return nil, fmt.Errorf("missing %s: set it directly or include it in the cookie header", APIKeyCookie)
	}
	if creds.PortfolioID == "" {
		return nil, fmt.Errorf("missing %s: set it directly or include it in the cookie header", PortfolioIDCookie)
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
