// Package removebg removes image backgrounds through a remote service: a local
// rembg server or the Replicate predictions API.
package removebg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Backend names.
const (
	BackendLocal     = "local"
	BackendReplicate = "replicate"
)

// BackendHeader reports which backend produced the result.
const BackendHeader = "X-Bg-Backend"

// maxResponseBytes bounds what is read from a backend.
const maxResponseBytes = 100 << 20

// Output is a background-free PNG.
type Output struct {
	Data    []byte
	Backend string
}

// Remover removes the background of an image.
type Remover interface {
	Remove(ctx context.Context, image []byte, filename string) (*Output, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend        string
	RembgURL       string
	ReplicateURL   string
	ReplicateToken string
	ReplicateModel string
	PollInterval   time.Duration
	MaxPolls       int
}

// New returns the configured backend.
func New(cfg Config, client *http.Client) (Remover, error) {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocal(cfg.RembgURL, client), nil
	case BackendReplicate:
		return NewReplicate(cfg, client), nil
	default:
		return nil, fmt.Errorf("unknown background removal backend: %s", cfg.Backend)
	}
}

// fileBody builds a multipart body with a single "file" part.
func fileBody(data []byte, filename string) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "image.png"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxResponseBytes {
		return nil, fmt.Errorf("response larger than %d bytes", maxResponseBytes)
	}
	return data, nil
}

// errorText returns a short excerpt of an error response body.
func errorText(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "(no body)"
}
