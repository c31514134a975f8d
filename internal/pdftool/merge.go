package pdftool

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"bitgremlin/internal/pipeline"
)

// WarningsHeader carries the per-file failures of a partially successful merge.
const WarningsHeader = "X-Merge-Warnings"

// Merge concatenates every upload that can be opened, in upload order. Files that
// fail the open policy are skipped and reported as warnings; if none can be opened
// the merge fails with the full list.
func (s *Service) Merge(ctx context.Context, files []*pipeline.Upload, o OpenOptions) (*pipeline.Result, error) {
	job, err := pipeline.NewJob(s.workDir)
	if err != nil {
		return nil, err
	}
	defer job.Close()

	var inputs, warnings []string
	for i, up := range files {
		path, err := job.SaveUpload(up, inputName(i))
		if err != nil {
			return nil, err
		}
		opened, err := open(path, o)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", up.Name, err))
			continue
		}
		inputs = append(inputs, opened)
	}
	if len(inputs) == 0 {
		return nil, pipeline.InputRejected(nil, "Could not open any PDFs:\n- %s", strings.Join(warnings, "\n- "))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tool, err := s.locator.Resolve(MergeChain)
	if err != nil {
		return nil, err
	}
	out := job.Path("merged.pdf")
	switch tool.Name {
	case "pdfunite":
		err = s.runner.Run(ctx, tool, append(append([]string(nil), inputs...), out), nil, nil)
	case "gs":
		err = s.runner.Run(ctx, tool, GhostscriptMergeArgs(inputs, out), nil, nil)
	default:
		err = api.MergeCreateFile(inputs, out, false, configuration())
	}
	if err != nil {
		return nil, classify(err)
	}

	res, err := job.Result(out, contentTypePDF, "merged.pdf")
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		res.SetHeader(WarningsHeader, EncodeWarnings(warnings))
	}
	return res, nil
}

// GhostscriptMergeArgs is the gs argv concatenating inputs into out.
func GhostscriptMergeArgs(inputs []string, out string) []string {
	args := []string{"-dBATCH", "-dNOPAUSE", "-dQUIET", "-sDEVICE=pdfwrite", "-sOutputFile=" + out}
	return append(args, inputs...)
}

// EncodeWarnings joins warnings with " | " and percent-encodes them for a header.
func EncodeWarnings(warnings []string) string {
	return strings.ReplaceAll(url.QueryEscape(strings.Join(warnings, " | ")), "+", "%20")
}
