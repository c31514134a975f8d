package pdftool

import (
	"context"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"bitgremlin/internal/pipeline"
)

// Presets are the Ghostscript PDFSETTINGS values accepted by Compress.
var Presets = []string{"screen", "ebook", "printer", "prepress"}

// NormalizePreset strips the leading slash and defaults to ebook.
func NormalizePreset(preset string) (string, error) {
	p := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(preset)), "/")
	if p == "" {
		return "ebook", nil
	}
	for _, allowed := range Presets {
		if p == allowed {
			return p, nil
		}
	}
	return "", pipeline.UnsupportedParameter("preset", preset)
}

// Compress rewrites the document with Ghostscript, or optimizes it with pdfcpu
// when gs is not installed. The preset only applies to Ghostscript.
func (s *Service) Compress(ctx context.Context, up *pipeline.Upload, preset string) (*pipeline.Result, error) {
	preset, err := NormalizePreset(preset)
	if err != nil {
		return nil, err
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
	out := job.Path("compressed.pdf")

	tool, err := s.locator.Resolve(CompressChain)
	if err != nil {
		return nil, err
	}
	if tool.IsLibrary() {
		if err := api.OptimizeFile(in, out, configuration()); err != nil {
			return nil, pipeline.InputRejected(err, "could not optimize PDF")
		}
	} else if err := s.runner.Run(ctx, tool, GhostscriptCompressArgs(in, out, preset), nil, nil); err != nil {
		return nil, classify(err)
	}
	return job.Result(out, contentTypePDF, "compressed.pdf")
}

// GhostscriptCompressArgs is the gs argv rewriting in to out with a PDFSETTINGS preset.
func GhostscriptCompressArgs(in, out, preset string) []string {
	return []string{
		"-sDEVICE=pdfwrite", "-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=/" + preset,
		"-dNOPAUSE", "-dQUIET", "-dBATCH",
		"-sOutputFile=" + out,
		in,
	}
}
