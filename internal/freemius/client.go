package freemius

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	ProductionAPIRoot = "https://fast-api.freemius.com"
	LocalAPIRoot      = "http://api.freemius-local.com:8080"

	defaultTimeout   = 5 * time.Second
	maxResponseBytes = 2 << 20
)

type Config struct {
	StoreID            int64
	DeveloperID        int64
	DeveloperSecretKey string
	UseLocalAPI        bool
}

// Client talks to the Freemius user endpoints. It holds no per-user state and
// never retries.
type Client struct {
	config     Config
	apiRoot    string
	httpClient *http.Client
}

func NewClient(config Config) (*Client, error) {
	config.DeveloperSecretKey = strings.TrimSpace(config.DeveloperSecretKey)
	if config.StoreID <= 0 {
		return nil, fmt.Errorf("invalid freemius store id")
	}
	if config.DeveloperID <= 0 {
		return nil, fmt.Errorf("invalid freemius developer id")
	}
	if config.DeveloperSecretKey == "" {
		return nil, fmt.Errorf("missing freemius developer secret key")
	}

	apiRoot := ProductionAPIRoot
	if config.UseLocalAPI {
		apiRoot = LocalAPIRoot
	}

	return &Client{
		config:  config,
		apiRoot: apiRoot,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}, nil
}

// WithBaseURL points the client at another API root. Only tests need this.
func (c *Client) WithBaseURL(root string) *Client {
	c.apiRoot = strings.TrimRight(root, "/")
	return c
}

func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

func (c *Client) APIRoot() string {
	return c.apiRoot
}

// Login exchanges an email (and optionally a password) for the person and an
// access token. An empty password asks for a token on the strength of the
// developer credentials alone.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	form.Set("store_id", strconv.FormatInt(c.config.StoreID, 10))
	form.Set("developer_id", strconv.FormatInt(c.config.DeveloperID, 10))
	form.Set("developer_secret_key", c.config.DeveloperSecretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiRoot+"/v1/users/login.json", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Op: "build login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var parsed LoginResponse
	if err := c.do(req, "login", &parsed); err != nil {
		return nil, err
	}

	return &parsed, nil
}

// ListLicenses fetches up to count licenses of the given type for a remote
// user, authorizing with the user's access token.
func (c *Client) ListLicenses(ctx context.Context, remoteUserID int64, accessToken string, licenseType LicenseType, count int64) (*LicenseListResponse, error) {
	if licenseType == "" {
		licenseType = LicenseTypeAll
	}
	if count <= 0 {
		count = 1
	}

	id := strconv.FormatInt(remoteUserID, 10)
	query := encodeRFC3986([][2]string{
		{"count", strconv.FormatInt(count, 10)},
		{"store_id", strconv.FormatInt(c.config.StoreID, 10)},
		{"type", string(licenseType)},
		{"authorization", fmt.Sprintf("FSA %s:%s", id, accessToken)},
	})

	endpoint := fmt.Sprintf("%s/v1/users/%s/licenses.json?%s", c.apiRoot, id, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Op: "build licenses request", Err: err}
	}

	var parsed LicenseListResponse
	if err := c.do(req, "list licenses", &parsed); err != nil {
		return nil, err
	}

	return &parsed, nil
}

func (c *Client) do(req *http.Request, op string, target any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op + " request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: "read " + op + " response", Err: err}
	}

	// Error statuses still carry a JSON error object, so the status code is
	// not inspected here.
	if err := json.Unmarshal(body, target); err != nil {
		return &TransportError{Op: "decode " + op + " response", Err: fmt.Errorf("status %d: %w", resp.StatusCode, err)}
	}

	return nil
}

// encodeRFC3986 builds a query string in the given key order, escaping spaces
// as %20 rather than '+'.
func encodeRFC3986(pairs [][2]string) string {
	var b strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escapeRFC3986(pair[0]))
		b.WriteByte('=')
		b.WriteString(escapeRFC3986(pair[1]))
	}
	return b.String()
}

func escapeRFC3986(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}
