package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
)

// maxBodySize caps the lookup response.
const maxBodySize = 64 << 10

// Client resolves IP addresses to countries with an ipinfo.io-compatible API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client targeting the given base URL (e.g. https://ipinfo.io).
// Timeouts come from the caller's context.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// WithToken sets the optional API token sent as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// lookupResponse mirrors the JSON returned by GET /{ip}/json.
type lookupResponse struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
}

// Country returns the lower-cased ISO country code for ip. An empty, private
// or loopback ip looks up the caller's own public address instead, which is
// what a locally running service sees.
func (c *Client) Country(ctx context.Context, ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	endpoint := c.baseURL + "/json"
	if Routable(ip) {
		endpoint = c.baseURL + "/" + url.PathEscape(ip) + "/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	country := strings.ToLower(strings.TrimSpace(body.Country))
	if country == "" {
		return "", fmt.Errorf("no country in response")
	}
	return country, nil
}

// Routable reports whether ip is a public address worth looking up.
func Routable(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified() || addr.IsMulticast())
}
