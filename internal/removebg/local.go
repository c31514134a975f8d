package removebg

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// localPaths are tried in order; the next one only on 404.
var localPaths = []string{"/api/remove", "/remove"}

// Local posts images to a rembg server.
type Local struct {
	baseURL string
	client  *http.Client
}

// NewLocal creates a rembg client for baseURL.
func NewLocal(baseURL string, client *http.Client) *Local {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:7000"
	}
	return &Local{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// Remove sends the image to the first rembg endpoint that exists.
func (l *Local) Remove(ctx context.Context, image []byte, filename string) (*Output, error) {
	var lastErr error
	for _, p := range localPaths {
		body, contentType, err := fileBody(image, filename)
		if err != nil {
			return nil, fmt.Errorf("build rembg request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+p, body)
		if err != nil {
			return nil, fmt.Errorf("build rembg request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("rembg server unreachable: %w", err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			data, err := readBody(resp)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read rembg response: %w", err)
			}
			return &Output{Data: data, Backend: "local-rembg" + p}, nil
		}

		lastErr = fmt.Errorf("rembg server error %d on %s: %s", resp.StatusCode, p, errorText(resp))
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			break
		}
	}
	return nil, lastErr
}
