package netsuite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/feedsync/feedsync/internal/retry"
)

// ClientOptions holds the credentials and knobs for a SuiteQL client.
type ClientOptions struct {
	AccountID      string
	ConsumerKey    string
	ConsumerSecret string
	TokenID        string
	TokenSecret    string

	// BaseURL overrides the account-derived host. Mostly for tests.
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client speaks SuiteQL over the NetSuite REST query API. Every request is
// signed with OAuth 1.0a; responses are the standard paged envelope with an
// "items" array.
type Client struct {
	http       *resty.Client
	sign       *signer
	suiteQLURL string
	logger     *slog.Logger
}

const suiteQLPath = "/services/rest/query/v1/suiteql"

// NewClient validates credentials and builds a SuiteQL client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.AccountID == "" {
		return nil, errors.New("netsuite account id is required")
	}
	if opts.ConsumerKey == "" || opts.ConsumerSecret == "" ||
		opts.TokenID == "" || opts.TokenSecret == "" {
		return nil, errors.New("netsuite consumer and token credentials are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	base := opts.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.suitetalk.api.netsuite.com", opts.AccountID)
	}
	base = strings.TrimRight(base, "/")

	return &Client{
		http:       resty.New().SetTimeout(opts.Timeout),
		sign:       newSigner(opts.AccountID, opts.ConsumerKey, opts.ConsumerSecret, opts.TokenID, opts.TokenSecret),
		suiteQLURL: base + suiteQLPath,
		logger:     opts.Logger,
	}, nil
}

// SuiteQL runs one query and returns the rows of the "items" array. The
// Prefer: transient header asks NetSuite not to persist the query as a saved
// dataset. Rate-limit responses come back as retryable errors; client errors
// other than 429 are permanent since resending the same query cannot succeed.
func (c *Client) SuiteQL(ctx context.Context, query string) ([]map[string]any, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.sign.authHeader(http.MethodPost, c.suiteQLURL)).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "transient").
		SetBody(map[string]string{"q": query}).
		Post(c.suiteQLURL)
	if err != nil {
		return nil, fmt.Errorf("suiteql request: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, fmt.Errorf("suiteql rate limited (status %d)", resp.StatusCode())
	case resp.StatusCode() >= 500:
		return nil, fmt.Errorf("suiteql server error (status %d): %s", resp.StatusCode(), truncate(resp.String(), 200))
	case resp.StatusCode() != http.StatusOK:
		return nil, retry.Permanent(fmt.Errorf(
			"suiteql error (status %d): %s", resp.StatusCode(), truncate(resp.String(), 200)))
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode suiteql response: %w", err))
	}

	raw, err := jmespath.Search("items", any(payload))
	if err != nil {
		return nil, fmt.Errorf("extract items: %w", err)
	}
	list, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, retry.Permanent(fmt.Errorf("unexpected suiteql response shape: items is %T", raw))
	}

	items := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, retry.Permanent(fmt.Errorf("unexpected suiteql item type %T", entry))
		}
		items = append(items, item)
	}
	return items, nil
}

// Ping verifies credentials and connectivity with a trivial query.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SuiteQL(ctx, "SELECT 1")
	if err != nil {
		return fmt.Errorf("netsuite ping: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
