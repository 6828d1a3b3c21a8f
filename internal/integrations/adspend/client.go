package adspend

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
	"golang.org/x/oauth2/clientcredentials"

	"github.com/feedsync/feedsync/internal/retry"
)

// ClientOptions holds credentials for the ad-platform reporting API.
type ClientOptions struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	BaseURL      string
	Scopes       []string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Client fetches daily campaign spend rows. Authentication is the OAuth2
// client-credentials flow; the token source refreshes transparently.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *slog.Logger
}

// spendRow is the wire shape of one reporting row.
type spendRow struct {
	ID          int64   `json:"id"`
	CampaignID  string  `json:"campaign_id"`
	Date        string  `json:"date"`
	Platform    string  `json:"platform"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Spend       float64 `json:"spend"`
}

type spendPage struct {
	Rows []spendRow `json:"rows"`
}

// NewClient validates credentials and builds a reporting client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("ad spend client credentials are required")
	}
	if opts.TokenURL == "" || opts.BaseURL == "" {
		return nil, errors.New("ad spend token and base URLs are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	cc := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     opts.TokenURL,
		Scopes:       opts.Scopes,
	}
	httpClient := cc.Client(context.Background())
	httpClient.Timeout = opts.Timeout

	return &Client{
		http:    resty.NewWithClient(httpClient),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  opts.Logger,
	}, nil
}

// FetchPage returns up to pageSize rows with id strictly greater than cursor,
// ordered by id ascending.
func (c *Client) FetchPage(ctx context.Context, cursor int64, pageSize int) ([]spendRow, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("after_id", fmt.Sprintf("%d", cursor)).
		SetQueryParam("limit", fmt.Sprintf("%d", pageSize)).
		Get(c.baseURL + "/v1/spend/daily")
	if err != nil {
		return nil, fmt.Errorf("fetch spend page: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, fmt.Errorf("spend api rate limited (status %d)", resp.StatusCode())
	case resp.StatusCode() >= 500:
		return nil, fmt.Errorf("spend api server error (status %d)", resp.StatusCode())
	case resp.StatusCode() != http.StatusOK:
		return nil, retry.Permanent(fmt.Errorf("spend api error (status %d)", resp.StatusCode()))
	}

	var page spendPage
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode spend page: %w", err))
	}
	return page.Rows, nil
}

// Ping verifies the token endpoint and API are reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", "1").
		Get(c.baseURL + "/v1/spend/daily")
	if err != nil {
		return fmt.Errorf("ad spend ping: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("ad spend ping: status %d", resp.StatusCode())
	}
	return nil
}
