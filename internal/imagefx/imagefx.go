// Package imagefx is the image filter collaborator: raw photo bytes in,
// filtered photo bytes out. The bot treats a nil Filter as "capability not
// configured" and answers with an unavailable message instead of failing.
package imagefx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Filter interface {
	Apply(ctx context.Context, image []byte) ([]byte, error)
}

// HTTPFilter posts the image to an external filter service and returns the
// processed bytes.
type HTTPFilter struct {
	endpoint string
	http     *http.Client
	maxBytes int64
}

func NewHTTPFilter(endpoint string, timeout time.Duration, maxBytes int64) *HTTPFilter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	return &HTTPFilter{
		endpoint: strings.TrimSpace(endpoint),
		http:     &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (f *HTTPFilter) Apply(ctx context.Context, image []byte) ([]byte, error) {
	if f.endpoint == "" {
		return nil, fmt.Errorf("imagefx: endpoint not configured")
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("imagefx: empty image")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("imagefx http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > f.maxBytes {
		return nil, fmt.Errorf("imagefx: filtered image too large (>%d bytes)", f.maxBytes)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("imagefx: empty response")
	}
	return out, nil
}
