package config

import "strings"

// NetSuiteConfig contains credentials for the NetSuite SuiteQL API.
// Requests are signed with OAuth 1.0a (HMAC-SHA256) using a token-based
// integration record.
type NetSuiteConfig struct {
	AccountID      string `env:"ACCOUNT_ID"`
	ConsumerKey    string `env:"CONSUMER_KEY"`
	ConsumerSecret string `env:"CONSUMER_SECRET"`
	TokenID        string `env:"TOKEN_ID"`
	TokenSecret    string `env:"TOKEN_SECRET"`

	// BaseURL overrides the account-derived API host. Mostly for tests.
	BaseURL string `env:"BASE_URL" envDefault:""`
}

// Configured reports whether all required NetSuite credentials are present.
func (n NetSuiteConfig) Configured() bool {
	return n.AccountID != "" &&
		n.ConsumerKey != "" && n.ConsumerSecret != "" &&
		n.TokenID != "" && n.TokenSecret != ""
}

// AdSpendConfig contains credentials for the ad-platform spend API,
// which uses the OAuth2 client-credentials flow.
type AdSpendConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	TokenURL     string `env:"TOKEN_URL"`
	BaseURL      string `env:"BASE_URL"`
	Scopes       string `env:"SCOPES" envDefault:""`
}

// Configured reports whether all required ad spend credentials are present.
func (a AdSpendConfig) Configured() bool {
	return a.ClientID != "" && a.ClientSecret != "" && a.TokenURL != "" && a.BaseURL != ""
}

// ScopeList splits the comma-delimited Scopes value.
func (a AdSpendConfig) ScopeList() []string {
	if strings.TrimSpace(a.Scopes) == "" {
		return nil
	}
	parts := strings.Split(a.Scopes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
