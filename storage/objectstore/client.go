package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/samihalawa/psp-go/internal/codec"
)

// ErrNoSuchKey is returned by Get/Head for absent objects.
var ErrNoSuchKey = errors.New("no such key")

// ObjectClient is the minimal object API the backend needs: put, get,
// head-style existence checks, delete, and a key listing by prefix.
// Cloud-specific SDK wire protocols stay outside the core; any
// S3-compatible gateway exposing these verbs over HTTP works.
type ObjectClient interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Head(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// HTTPClient implements ObjectClient against a plain HTTP object
// endpoint with retrying transport:
//
//	PUT/GET/HEAD/DELETE {endpoint}/{bucket}/{key}
//	GET {endpoint}/{bucket}?prefix={p} -> {"keys": [...]}
type HTTPClient struct {
	endpoint string
	bucket   string
	token    string
	http     *retryablehttp.Client
}

// NewHTTPClient creates a client. Endpoint and bucket are required.
func NewHTTPClient(endpoint, bucket, token string, retries int) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, errors.New("objectstore: endpoint is required")
	}
	if bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.Logger = nil

	return &HTTPClient{
		endpoint: endpoint,
		bucket:   bucket,
		token:    token,
		http:     client,
	}, nil
}

// Put uploads an object.
func (c *HTTPClient) Put(ctx context.Context, key string, data []byte) error {
	resp, err := c.do(ctx, http.MethodPut, c.objectURL(key), data)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("put %s: status %d", key, resp.StatusCode)
	}
	return nil
}

// Get downloads an object.
func (c *HTTPClient) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.objectURL(key), nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoSuchKey
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: status %d", key, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Head checks existence without downloading the payload.
func (c *HTTPClient) Head(ctx context.Context, key string) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, c.objectURL(key), nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("head %s: status %d", key, resp.StatusCode)
	default:
		return true, nil
	}
}

// Delete removes an object. Deleting an absent key is not an error.
func (c *HTTPClient) Delete(ctx context.Context, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.objectURL(key), nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s: status %d", key, resp.StatusCode)
	}
	return nil
}

// ListKeys returns every key under the prefix.
func (c *HTTPClient) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	u := fmt.Sprintf("%s/%s?prefix=%s", c.endpoint, c.bucket, url.QueryEscape(prefix))
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list %q: status %d", prefix, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var listing struct {
		Keys []string `json:"keys"`
	}
	if err := codec.Decode(body, &listing); err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return listing.Keys, nil
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var payload interface{}
	if body != nil {
		payload = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func (c *HTTPClient) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucket, key)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
