// Package fetch downloads remote URLs into the spool for upload-from-URL.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	"cloudvault/internal/objstore"
)

var ErrBadStatus = errors.New("unexpected upstream status")

type Client struct {
	HTTP    *http.Client
	Headers map[string]string
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTP: &http.Client{Timeout: timeout},
		Headers: map[string]string{
			"User-Agent": "cloudvault/1.0",
		},
	}
}

type Result struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Fetch streams rawURL into w while hashing it. progress gets the running
// byte count and the advertised Content-Length (0 when absent).
func (c *Client) Fetch(ctx context.Context, rawURL string, w io.Writer, progress objstore.ProgressFunc) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, err
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	hash := sha256.New()
	pr := objstore.NewProgressReader(resp.Body, total, progress)
	n, err := io.Copy(io.MultiWriter(w, hash), pr)
	if err != nil {
		return Result{}, err
	}
	return Result{Size: n, SHA256: hex.EncodeToString(hash.Sum(nil))}, nil
}

// FileName derives a display name from the URL path, falling back to a
// random name when the path has none.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return uuid.NewString() + ".file"
}
