package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
)

// Result is a successful pipeline output. The response layer owns Body and must
// close it.
type Result struct {
	Body          io.ReadCloser
	ContentType   string
	Filename      string
	ContentLength int64 // -1 when unknown
	Header        http.Header
}

// BytesResult wraps an in-memory output. The size is bounded by the upload limit.
func BytesResult(data []byte, contentType, filename string) *Result {
	return &Result{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentType:   contentType,
		Filename:      filename,
		ContentLength: int64(len(data)),
	}
}

// SetHeader adds an extra response header.
func (res *Result) SetHeader(key, value string) {
	if res.Header == nil {
		res.Header = http.Header{}
	}
	res.Header.Set(key, value)
}

// Write sends the result and always closes its body.
func (res *Result) Write(w http.ResponseWriter) error {
	defer res.Body.Close()

	h := w.Header()
	for k, vs := range res.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	SetDownloadHeaders(h, res.ContentType, res.Filename)
	if res.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, res.Body); err != nil {
		return fmt.Errorf("stream result: %w", err)
	}
	return nil
}

// SetDownloadHeaders sets the content type, attachment disposition and no-store
// cache directive.
func SetDownloadHeaders(h http.Header, contentType, filename string) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-store")
	if filename != "" {
		h.Set("Content-Disposition", ContentDisposition(filename))
	}
}

// ContentDisposition formats an attachment disposition, escaping the filename.
func ContentDisposition(filename string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if v == "" {
		return `attachment; filename="download"`
	}
	return v
}

// StreamWriter writes a streamed response. Headers are committed on the first
// byte, so a failure before any output can still be answered with an error status.
// Writes after ctx is done are refused.
type StreamWriter struct {
	ctx         context.Context
	w           http.ResponseWriter
	rc          *http.ResponseController
	contentType string
	filename    string
	started     bool
	written     int64
}

// NewStreamWriter creates a lazy streaming writer.
func NewStreamWriter(ctx context.Context, w http.ResponseWriter, contentType, filename string) *StreamWriter {
	return &StreamWriter{
		ctx:         ctx,
		w:           w,
		rc:          http.NewResponseController(w),
		contentType: contentType,
		filename:    filename,
	}
}

func (s *StreamWriter) Write(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	if !s.started {
		SetDownloadHeaders(s.w.Header(), s.contentType, s.filename)
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	n, err := s.w.Write(p)
	s.written += int64(n)
	if err != nil {
		return n, err
	}
	_ = s.rc.Flush()
	return n, nil
}

// Started reports whether any output was sent.
func (s *StreamWriter) Started() bool {
	return s.started
}

// Written returns the number of body bytes sent.
func (s *StreamWriter) Written() int64 {
	return s.written
}
