// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"pluginpm/pkg/version"
)

const (
	// defaultBaseURL targets a locally running registry server.
	defaultBaseURL = "http://localhost:3000"

	// defaultMetadataBytes is the upper bound on metadata response size (10 MB).
	// Prevents unbounded memory consumption from malicious or malformed responses.
	defaultMetadataBytes = 10 << 20

	// maxSignatureBytes bounds signature downloads. Detached ed25519
	// signatures are 64 bytes; anything near the bound is garbage.
	maxSignatureBytes = 1 << 10

	// apiTokenPrefix marks registry-issued API tokens, which use the
	// "Token" authorization scheme instead of "Bearer".
	apiTokenPrefix = "ppm_"
)

type (
	// apiPackage is the JSON wire format for a package metadata response.
	apiPackage struct {
		Name     string       `json:"name"`
		Versions []apiVersion `json:"versions"`
	}

	// apiVersion is the JSON wire format for one published version.
	apiVersion struct {
		Version      string            `json:"version"`
		Checksum     string            `json:"checksum"`
		Engines      string            `json:"engines,omitempty"`
		Dependencies map[string]string `json:"dependencies,omitempty"`
		Yanked       bool              `json:"yanked,omitempty"`
	}

	// HTTPClient talks to a registry server over its REST API.
	HTTPClient struct {
		httpClient    *http.Client
		baseURL       string // API base URL (default: "http://localhost:3000", overridable for tests)
		token         string // Optional API or bearer token for authenticated requests
		userAgent     string // User-Agent header value
		metadataLimit int64  // Upper bound on metadata response bytes
	}

	// HTTPOption configures an HTTPClient during construction.
	HTTPOption func(*HTTPClient)
)

var _ Client = (*HTTPClient)(nil)

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy
// configurations.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.httpClient = c
	}
}

// WithBaseURL overrides the registry base URL.
func WithBaseURL(base string) HTTPOption {
	return func(h *HTTPClient) {
		h.baseURL = strings.TrimRight(base, "/")
	}
}

// WithToken sets the token sent with every request. Tokens issued by
// the registry (prefix "ppm_") use the "Token" scheme, anything else is
// sent as a bearer token.
func WithToken(token string) HTTPOption {
	return func(h *HTTPClient) {
		h.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTPClient) {
		h.userAgent = ua
	}
}

// WithMetadataLimit overrides the metadata response size bound.
func WithMetadataLimit(n int64) HTTPOption {
	return func(h *HTTPClient) {
		h.metadataLimit = n
	}
}

// NewHTTPClient creates an HTTPClient with sensible defaults.
// Defaults: baseURL="http://localhost:3000", userAgent="pluginpm/dev",
// httpClient=http.DefaultClient.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		httpClient:    http.DefaultClient,
		baseURL:       defaultBaseURL,
		userAgent:     "pluginpm/dev",
		metadataLimit: defaultMetadataBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMetadata fetches and validates the version listing for a package.
func (c *HTTPClient) FetchMetadata(ctx context.Context, name string) (*PackageMetadata, error) {
	reqURL := fmt.Sprintf("%s/api/v1/packages/%s", c.baseURL, url.PathEscape(name))

	resp, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, transportErr("metadata", name, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("metadata", name, resp.StatusCode)
	}

	var wire apiPackage
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.metadataLimit)).Decode(&wire); err != nil {
		return nil, &TransportError{Op: "metadata", Target: name, Err: fmt.Errorf("decoding response: %v: %w", err, ErrServer)}
	}

	meta, err := toMetadata(&wire, c.baseURL)
	if err != nil {
		return nil, &TransportError{Op: "metadata", Target: name, Err: fmt.Errorf("%v: %w", err, ErrServer)}
	}
	return meta, nil
}

// FetchTarball streams the tarball for one published version. The
// caller is responsible for closing the returned ReadCloser.
func (c *HTTPClient) FetchTarball(ctx context.Context, name string, v version.Version) (io.ReadCloser, error) {
	target := name + "@" + v.String()
	reqURL := fmt.Sprintf("%s/api/v1/packages/%s/%s/download",
		c.baseURL, url.PathEscape(name), url.PathEscape(v.String()))

	resp, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, transportErr("tarball", target, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, statusErr("tarball", target, resp.StatusCode)
	}

	return resp.Body, nil
}

// FetchSignature returns the detached signature bytes for one
// published version's tarball digest.
func (c *HTTPClient) FetchSignature(ctx context.Context, name string, v version.Version) ([]byte, error) {
	target := name + "@" + v.String()
	reqURL := fmt.Sprintf("%s/api/v1/packages/%s/%s/signature",
		c.baseURL, url.PathEscape(name), url.PathEscape(v.String()))

	resp, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, transportErr("signature", target, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("signature", target, resp.StatusCode)
	}

	sig, err := io.ReadAll(io.LimitReader(resp.Body, maxSignatureBytes))
	if err != nil {
		return nil, transportErr("signature", target, err)
	}
	return sig, nil
}

// doRequest creates and executes a GET request with common headers.
func (c *HTTPClient) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	// Only attach the token when the request targets the configured
	// registry host. This prevents token leakage if a download URL
	// redirects to a third-party CDN.
	if c.token != "" && isRegistryHost(req.URL, c.baseURL) {
		req.Header.Set("Authorization", authHeader(c.token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// authHeader formats the Authorization value for a token. Registry API
// tokens (prefix "ppm_") use the "Token" scheme, JWTs and everything
// else use "Bearer".
func authHeader(token string) string {
	if strings.HasPrefix(token, apiTokenPrefix) {
		return "Token " + token
	}
	return "Bearer " + token
}

// isRegistryHost reports whether reqURL targets the configured registry
// host, so the auth token can be safely attached.
func isRegistryHost(reqURL *url.URL, baseURL string) bool {
	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(reqURL.Host, base.Host)
}

// statusErr maps a non-200 HTTP status onto the error taxonomy.
func statusErr(op, target string, status int) error {
	e := &TransportError{Op: op, Target: target, Status: status}
	switch {
	case status == http.StatusNotFound:
		e.Err = ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Err = ErrUnauthorized
	case status == http.StatusRequestTimeout:
		e.Err = ErrTimeout
	case status >= 500:
		e.Err = ErrServer
	default:
		e.Err = fmt.Errorf("unexpected status %d", status)
	}
	return e
}

// transportErr classifies request execution failures. Timeouts from
// the transport or the context map onto ErrTimeout.
func transportErr(op, target string, err error) error {
	e := &TransportError{Op: op, Target: target, Err: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Err = fmt.Errorf("%v: %w", err, ErrTimeout)
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Err = fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	return e
}

// toMetadata converts the JSON wire type to the exported typed form,
// validating every field. Registries that serve unparseable versions,
// constraints or checksums are treated as misbehaving servers.
func toMetadata(wire *apiPackage, source string) (*PackageMetadata, error) {
	if wire.Name == "" {
		return nil, errors.New("metadata missing package name")
	}

	meta := &PackageMetadata{
		Name:     wire.Name,
		Source:   source,
		Versions: make([]VersionInfo, 0, len(wire.Versions)),
	}

	for _, wv := range wire.Versions {
		v, err := version.Parse(wv.Version)
		if err != nil {
			return nil, fmt.Errorf("version %q: %w", wv.Version, err)
		}
		if !isHexChecksum(wv.Checksum) {
			return nil, fmt.Errorf("version %s: malformed checksum %q", v, wv.Checksum)
		}
		engines, err := version.ParseEngineRange(wv.Engines)
		if err != nil {
			return nil, fmt.Errorf("version %s: engines: %w", v, err)
		}

		info := VersionInfo{
			Version:  v,
			Engines:  engines,
			Checksum: strings.ToLower(wv.Checksum),
			Yanked:   wv.Yanked,
		}
		if len(wv.Dependencies) > 0 {
			info.Dependencies = make(map[string]version.Constraint, len(wv.Dependencies))
			for dep, spec := range wv.Dependencies {
				c, err := version.ParseConstraint(spec)
				if err != nil {
					return nil, fmt.Errorf("version %s: dependency %s: %w", v, dep, err)
				}
				info.Dependencies[dep] = c
			}
		}
		meta.Versions = append(meta.Versions, info)
	}

	meta.SortVersions()
	return meta, nil
}

// isHexChecksum reports whether s is a 64-character hex SHA-256 digest.
// Case-insensitive: registries may serve uppercase hex.
func isHexChecksum(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
