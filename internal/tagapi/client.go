// Package tagapi is a typed client for the image-tagging backend.
//
// Every call is a single request/response round trip. There is no retry
// and no caching; callers decide how to report failures.
package tagapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultUploadPath is the upload endpoint of current backends. Older
// deployments expose the same operation at "/image/".
const DefaultUploadPath = "/image/upload/"

type Client struct {
	baseURL    string
	uploadPath string
	httpClient *http.Client
}

type Option func(*Client)

// WithUploadPath overrides the upload endpoint path.
func WithUploadPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.uploadPath = path
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		uploadPath: DefaultUploadPath,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadImage sends the image as multipart field "file" and returns the
// tags the backend assigned to it.
func (c *Client) UploadImage(ctx context.Context, filename, contentType string, data []byte, opts UploadOptions) (*TagResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	q := url.Values{}
	q.Set("confidence_threshold", formatFloat(opts.ConfidenceThreshold))
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}

	var result TagResult
	err = c.do(ctx, "upload image", http.MethodPost, c.uploadPath, q, &body, mw.FormDataContentType(), &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetSampleImages(ctx context.Context) ([]SampleImage, error) {
	var samples []SampleImage
	if err := c.do(ctx, "list sample images", http.MethodGet, "/sample-images/", nil, nil, "", &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) AnalyzeSampleImage(ctx context.Context, id int, confidenceThreshold float64) (*TagResult, error) {
	q := url.Values{}
	q.Set("confidence_threshold", formatFloat(confidenceThreshold))
	path := "/sample-images/" + strconv.Itoa(id) + "/analyze"

	var result TagResult
	if err := c.do(ctx, "analyze sample image", http.MethodPost, path, q, nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetAnalytics(ctx context.Context, opts AnalyticsOptions) (*AnalyticsSummary, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	q.Set("min_confidence", formatFloat(opts.MinConfidence))

	var summary AnalyticsSummary
	if err := c.do(ctx, "fetch analytics", http.MethodGet, "/analytics/top-tags/", q, nil, "", &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) GetImageStats(ctx context.Context) (*ImageStats, error) {
	var stats ImageStats
	if err := c.do(ctx, "fetch image stats", http.MethodGet, "/analytics/stats/", nil, nil, "", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SampleImageURL returns an absolute URL for a sample's image. Backends
// sometimes return "host:port/path" without a scheme, or a root-relative
// path.
func (c *Client) SampleImageURL(s SampleImage) string {
	u := s.ImageURL
	switch {
	case u == "":
		return ""
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return u
	case strings.HasPrefix(u, "/"):
		return c.baseURL + u
	default:
		return "http://" + u
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &ServerError{Op: op, Status: resp.StatusCode, Message: errorMessage(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
