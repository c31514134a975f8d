package pdftool

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"bitgremlin/internal/pipeline"
)

// Signature font size bounds.
const (
	maxSignatureSize = 48
	minSignatureSize = 6
)

// DefaultSignatureFont is used when no TrueType font is supplied.
const DefaultSignatureFont = "Helvetica"

// SignOptions places a visible text signature and, when Certificate is set, a
// PKCS#7 signature over the stamped document.
type SignOptions struct {
	Text     string
	Page     int     // 1-based, clamped to the page count
	X, Y     float64 // points from the bottom-left corner
	WidthPct float64 // share of the page width the text may span, 5..90

	// Font is a TrueType font for the stamp.
	Font []byte
	// Certificate is a PKCS#12 bundle unlocked with Passphrase.
	Certificate []byte
	Passphrase  string
}

// Sign stamps opts.Text onto the selected page, sized so that it spans at most
// WidthPct of the page width. With a certificate the result also carries a detached
// PKCS#7 signature whose field covers the stamp.
func (s *Service) Sign(ctx context.Context, up *pipeline.Upload, opts SignOptions) (*pipeline.Result, error) {
	if opts.Text == "" {
		return nil, pipeline.InvalidRequest("missing signature text")
	}

	var signer *Signer
	if len(opts.Certificate) > 0 {
		var err error
		if signer, err = LoadSigner(opts.Certificate, opts.Passphrase); err != nil {
			return nil, err
		}
	}

	job, err := pipeline.NewJob(s.workDir)
	if err != nil {
		return nil, err
	}
	defer job.Close()

	in, err := job.SaveUpload(up, "input.pdf")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fontName := DefaultSignatureFont
	if len(opts.Font) > 0 {
		if fontName, err = installFont(job.Path("font"), opts.Font); err != nil {
			return nil, pipeline.InputRejected(err, "could not load font")
		}
	}

	dims, err := api.PageDimsFile(in)
	if err != nil || len(dims) == 0 {
		return nil, pipeline.InputRejected(err, "could not open PDF")
	}
	page := min(max(opts.Page, 1), len(dims))
	size := FitFontSize(opts.Text, fontName, opts.WidthPct/100*dims[page-1].Width)

	wm, err := pdfcpu.ParseTextWatermarkDetails(opts.Text, StampDescription(fontName, size, opts.X, opts.Y), true, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("build signature stamp: %w", err)
	}

	out := job.Path("signed.pdf")
	stamped := out
	if signer != nil {
		stamped = job.Path("stamped.pdf")
	}
	if err := api.AddWatermarksFile(in, stamped, []string{strconv.Itoa(page)}, wm, configuration()); err != nil {
		return nil, pipeline.InputRejected(err, "could not stamp PDF")
	}

	if signer != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rect := SignatureRect(opts.Text, fontName, size, opts.X, opts.Y)
		if err := signer.SignFile(stamped, out, page, rect); err != nil {
			return nil, err
		}
	}
	return job.Result(out, contentTypePDF, "signed.pdf")
}

// StampDescription is the pdfcpu watermark description for a signature set in
// fontName at the given size at x, y.
func StampDescription(fontName string, size int, x, y float64) string {
	return fmt.Sprintf("font:%s, points:%d, pos:bl, off:%s %s, scale:1 abs, rot:0, fillc:#000000, op:1",
		fontName, size, formatPoints(x), formatPoints(y))
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FitFontSize returns the largest size from 48 down to 6 at which text set in
// fontName fits in width points.
func FitFontSize(text, fontName string, width float64) int {
	if font.TextWidth(text, fontName, maxSignatureSize) <= width {
		return maxSignatureSize
	}
	size := min(max(font.Size(text, fontName, width), minSignatureSize), maxSignatureSize)
	for size > minSignatureSize && font.TextWidth(text, fontName, size) > width {
		size--
	}
	return size
}

// SignatureRect is the signature field rectangle (llx, lly, urx, ury) around a
// stamp of text at x, y.
func SignatureRect(text, fontName string, size int, x, y float64) [4]float64 {
	w := math.Ceil(font.TextWidth(text, fontName, size)) + 4
	h := math.Ceil(font.LineHeight(fontName, size)) + 6
	return [4]float64{x, y - 2, x + w, y - 2 + h}
}

// fontMu serializes installs into pdfcpu's shared user font directory.
var fontMu sync.Mutex

// installFont registers a TrueType font with pdfcpu and returns its PostScript
// name. staging is a scratch directory that must not exist yet.
func installFont(staging string, ttf []byte) (name string, err error) {
	// pdfcpu panics on some malformed font tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse font: %v", r)
		}
	}()

	configuration()
	if err := os.Mkdir(staging, 0o700); err != nil {
		return "", fmt.Errorf("create font dir: %w", err)
	}
	if err := font.InstallFontFromBytes(staging, "signature.ttf", ttf); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", err
	}
	var gob string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".gob" {
			gob = e.Name()
			break
		}
	}
	if gob == "" {
		return "", fmt.Errorf("font has no PostScript name")
	}
	name = strings.TrimSuffix(gob, ".gob")

	fontMu.Lock()
	defer fontMu.Unlock()
	if font.IsUserFont(name) {
		return name, nil
	}
	data, err := os.ReadFile(filepath.Join(staging, gob))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(font.UserFontDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(font.UserFontDir, gob), data, 0o644); err != nil {
		return "", err
	}
	if err := font.LoadUserFonts(); err != nil {
		return "", err
	}
	if !font.IsUserFont(name) {
		return "", fmt.Errorf("font %s did not load", name)
	}
	return name, nil
}
