// Package pipeline implements the four-stage subprocess conversion pipeline shared by
// every tool endpoint: accept the request, locate the external tool, run it, and stream
// the result back while owning every temporary file the run creates.
package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

// MediaKind is the declared kind of an uploaded payload.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
	KindPDF   MediaKind = "pdf"
)

// Request is a validated conversion request. It is built once per HTTP call and not
// modified afterwards.
type Request struct {
	Source *Upload
	Kind   MediaKind
	Target string
	Params map[string]string
}

// Limits bounds what the acceptor lets through.
type Limits struct {
	MaxUploadBytes int64
	MaxParamLength int
}

// Acceptor parses and validates incoming requests.
type Acceptor struct {
	limits Limits
}

// NewAcceptor creates an acceptor enforcing the given limits.
func NewAcceptor(limits Limits) *Acceptor {
	if limits.MaxParamLength <= 0 {
		limits.MaxParamLength = 256
	}
	return &Acceptor{limits: limits}
}

// Limits returns the limits the acceptor enforces.
func (a *Acceptor) Limits() Limits {
	return a.limits
}

// multipart parts above this size spill to disk instead of memory
const maxFormMemory = 32 << 20

// Multipart parses a multipart/form-data request. Oversized requests are rejected
// from the Content-Length header before the body is read.
func (a *Acceptor) Multipart(w http.ResponseWriter, r *http.Request) (*Form, error) {
	if !hasMediaType(r, "multipart/form-data") {
		return nil, InvalidRequest("expected multipart/form-data")
	}
	if err := a.checkLength(r); err != nil {
		return nil, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.limits.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, PayloadTooLarge(a.limits.MaxUploadBytes)
		}
		// the multipart reader may replace the limit error; the body keeps reporting it
		if _, rerr := r.Body.Read(make([]byte, 1)); errors.As(rerr, &tooLarge) {
			return nil, PayloadTooLarge(a.limits.MaxUploadBytes)
		}
		return nil, InvalidRequest("invalid multipart form")
	}
	return &Form{form: r.MultipartForm, maxLen: a.limits.MaxParamLength}, nil
}

// JSON decodes an application/json body into v.
func (a *Acceptor) JSON(w http.ResponseWriter, r *http.Request, v any) error {
	if !hasMediaType(r, "application/json") {
		return InvalidRequest("expected application/json")
	}
	if err := a.checkLength(r); err != nil {
		return err
	}

	body := http.MaxBytesReader(w, r.Body, int64(a.limits.MaxParamLength)*64)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return InvalidRequest("request body too large")
		}
		return InvalidRequest("invalid JSON body")
	}
	return nil
}

func (a *Acceptor) checkLength(r *http.Request) error {
	if r.ContentLength > a.limits.MaxUploadBytes {
		return PayloadTooLarge(a.limits.MaxUploadBytes)
	}
	return nil
}

func hasMediaType(r *http.Request, want string) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == want
}

// Bounded trims s and truncates it to at most n bytes on a rune boundary.
func Bounded(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// Form is a parsed multipart request body.
type Form struct {
	form   *multipart.Form
	maxLen int
}

// Close removes any temporary files the multipart parser spilled to disk.
func (f *Form) Close() error {
	return f.form.RemoveAll()
}

// String returns a trimmed, length-bounded form value.
func (f *Form) String(field string) string {
	vals := f.form.Value[field]
	if len(vals) == 0 {
		return ""
	}
	return Bounded(vals[0], f.maxLen)
}

// Has reports whether a non-empty value was sent for field.
func (f *Form) Has(field string) bool {
	return f.String(field) != ""
}

// Enum returns the lowercased value of field, def when absent, or
// UnsupportedParameter when the value is outside allowed.
func (f *Form) Enum(field, def string, allowed ...string) (string, error) {
	v := strings.ToLower(f.String(field))
	if v == "" {
		v = def
	}
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", UnsupportedParameter(field, v)
}

// Int parses an integer field. An absent value yields def; a value that does not
// parse or falls outside [min, max] is an UnsupportedParameter.
func (f *Form) Int(field string, def, min, max int) (int, error) {
	s := f.String(field)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, UnsupportedParameter(field, s)
	}
	if n < min || n > max {
		return 0, UnsupportedParameter(field, s)
	}
	return n, nil
}

// ClampInt parses an integer field and clamps it to [min, max].
func (f *Form) ClampInt(field string, def, min, max int) int {
	n, err := strconv.Atoi(f.String(field))
	if err != nil {
		n = def
	}
	return clamp(n, min, max)
}

// ClampFloat parses a float field and clamps it to [min, max]. ok is false when the
// field is absent.
func (f *Form) ClampFloat(field string, min, max float64) (v float64, ok bool) {
	s := f.String(field)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n != n {
		return min, true
	}
	return max64(min, min64(max, n)), true
}

// Bool reports whether field is "true" or "1".
func (f *Form) Bool(field string) bool {
	v := strings.ToLower(f.String(field))
	return v == "true" || v == "1"
}

// File returns the first upload for field.
func (f *Form) File(field string) (*Upload, error) {
	files := f.form.File[field]
	if len(files) == 0 {
		return nil, InvalidRequest("missing %s", field)
	}
	return newUpload(files[0]), nil
}

// OptionalFile reads the first upload for field. An absent field yields nil.
func (f *Form) OptionalFile(field string) ([]byte, error) {
	files := f.form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	return newUpload(files[0]).ReadAll()
}

// Files returns every upload for field.
func (f *Form) Files(field string) ([]*Upload, error) {
	files := f.form.File[field]
	if len(files) == 0 {
		return nil, InvalidRequest("no %s", field)
	}
	out := make([]*Upload, 0, len(files))
	for _, fh := range files {
		out = append(out, newUpload(fh))
	}
	return out, nil
}

// Upload is one uploaded file.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	header      *multipart.FileHeader
}

func newUpload(fh *multipart.FileHeader) *Upload {
	return &Upload{
		Name:        SanitizeName(fh.Filename),
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		header:      fh,
	}
}

// Open opens the upload for reading.
func (u *Upload) Open() (multipart.File, error) {
	return u.header.Open()
}

// ReadAll reads the whole upload into memory. The size is already bounded by the
// acceptor's upload limit.
func (u *Upload) ReadAll() ([]byte, error) {
	f, err := u.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Sniff detects the content type from the leading bytes of the upload.
func (u *Upload) Sniff() (*mimetype.MIME, error) {
	f, err := u.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return mimetype.DetectReader(f)
}

// Expect rejects an upload whose content is not of the given kind, whatever its
// name or declared type says.
func (u *Upload) Expect(kind MediaKind) error {
	detected, err := u.Sniff()
	if err != nil {
		return err
	}
	for m := detected; m != nil; m = m.Parent() {
		if kind == KindPDF && m.Is("application/pdf") {
			return nil
		}
		if kind != KindPDF && strings.HasPrefix(m.String(), string(kind)+"/") {
			return nil
		}
	}
	return InputRejected(nil, "%s is not a valid %s file (detected %s)", u.Name, kind, detected.String())
}

// Base returns the sanitized upload name without its extension.
func (u *Upload) Base() string {
	return StripExt(u.Name)
}

// SanitizeName strips path components and control characters from an uploaded
// filename and bounds its length.
func SanitizeName(s string) string {
	s = strings.ReplaceAll(s, "\\", "/")
	s = filepath.Base(s)
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return '_'
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." || s == "/" {
		s = "file"
	}
	if len(s) > 100 {
		ext := filepath.Ext(s)
		if len(ext) > 10 {
			ext = ""
		}
		s = Bounded(StripExt(s), 100-len(ext)) + ext
	}
	return s
}

// StripExt removes the extension from name.
func StripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
