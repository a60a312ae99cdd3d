package cookies

import (
	"context"
	"errors"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   map[string]string
	}{
		{
			name:   "typical document.cookie",
			header: "API_KEY=abc123; PORTFOLIO_ID=p-9; _ga=GA1.2.3",
			want:   map[string]string{"API_KEY": "abc123", "PORTFOLIO_ID": "p-9", "_ga": "GA1.2.3"},
		},
		{
			name:   "value containing equals",
			header: "API_KEY=dG9rZW4=; PORTFOLIO_ID=x==",
			want:   map[string]string{"API_KEY": "dG9rZW4=", "PORTFOLIO_ID": "x=="},
		},
		{
			name:   "extra whitespace and empty parts",
			header: "  a = 1 ;; b=2;  ",
			want:   map[string]string{"a": "1", "b": "2"},
		},
		{
			name:   "flag without value",
			header: "secure; a=1",
			want:   map[string]string{"secure": "", "a": "1"},
		},
		{
			name:   "empty",
			header: "",
			want:   map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.header))
		})
	}
}

func TestFromHeader(t *testing.T) {
	creds, err := FromHeader("_ga=1; API_KEY=key; PORTFOLIO_ID=pid")
	require.NoError(t, err)
	assert.Equal(t, "key", creds.APIKey)
	assert.Equal(t, "pid", creds.PortfolioID)
	assert.Equal(t, "_ga=1; API_KEY=key; PORTFOLIO_ID=pid", creds.Cookie)

	_, err = FromHeader("_ga=1; API_KEY=key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORTFOLIO_ID")
	assert.NotContains(t, err.Error(), "API_KEY")

	_, err = FromHeader("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY, PORTFOLIO_ID")
}

func TestStaticSource(t *testing.T) {
	ctx := context.Background()

	t.Run("header only", func(t *testing.T) {
		creds, err := StaticSource{Header: "API_KEY=k; PORTFOLIO_ID=p"}.Credentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, "k", creds.APIKey)
		assert.Equal(t, "p", creds.PortfolioID)
	})

	t.Run("explicit tokens override header", func(t *testing.T) {
		creds, err := StaticSource{
			Header:      "API_KEY=old; PORTFOLIO_ID=old",
			APIKey:      "new-key",
			PortfolioID: "new-pid",
		}.Credentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, "new-key", creds.APIKey)
		assert.Equal(t, "new-pid", creds.PortfolioID)
		assert.Equal(t, "API_KEY=old; PORTFOLIO_ID=old", creds.Cookie)
	})

	t.Run("explicit tokens without header", func(t *testing.T) {
		creds, err := StaticSource{APIKey: "k", PortfolioID: "p"}.Credentials(ctx)
		require.NoError(t, err)
		assert.Empty(t, creds.Cookie)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := StaticSource{}.Credentials(ctx)
		assert.True(t, errors.Is(err, ErrNoCredentials))
	})

	t.Run("missing portfolio", func(t *testing.T) {
		_, err := StaticSource{APIKey: "k"}.Credentials(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PORTFOLIO_ID")
	})
}

func TestHeaderFromCookies(t *testing.T) {
	cookies := []*network.Cookie{
		{Name: "API_KEY", Value: "k", Domain: ".koinly.io"},
		{Name: "SID", Value: "google", Domain: ".google.com"},
		nil,
		{Name: "PORTFOLIO_ID", Value: "p", Domain: "app.koinly.io"},
	}

	assert.Equal(t, "API_KEY=k; PORTFOLIO_ID=p", HeaderFromCookies(cookies, DefaultCookieDomain))
	assert.Empty(t, HeaderFromCookies(nil, DefaultCookieDomain))
}

func TestChromeSource_NoDebugURL(t *testing.T) {
	_, err := ChromeSource{}.Credentials(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}
