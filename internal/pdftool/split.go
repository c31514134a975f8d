package pdftool

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"bitgremlin/internal/pipeline"
)

var rangesPattern = regexp.MustCompile(`^\d{1,6}(-\d{1,6})?(,\d{1,6}(-\d{1,6})?)*$`)

// ValidateRanges checks the page range syntax: comma separated N or A-B.
func ValidateRanges(ranges string) error {
	if ranges == "" {
		return pipeline.InvalidRequest("missing ranges")
	}
	if !rangesPattern.MatchString(compact(ranges)) {
		return pipeline.UnsupportedParameter("ranges", ranges)
	}
	return nil
}

// ParseRanges expands ranges into 1-based page numbers for a document of
// pageCount pages. Reversed bounds are swapped, pages outside the document are
// dropped and duplicates keep their first position.
func ParseRanges(ranges string, pageCount int) []int {
	seen := map[int]bool{}
	var pages []int
	add := func(p int) {
		if p >= 1 && p <= pageCount && !seen[p] {
			seen[p] = true
			pages = append(pages, p)
		}
	}

	for _, part := range strings.Split(compact(ranges), ",") {
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			continue
		}
		if !isRange {
			add(a)
			continue
		}
		b, err := strconv.Atoi(hi)
		if err != nil {
			continue
		}
		start, end := max(1, min(a, b)), min(pageCount, max(a, b))
		for p := start; p <= end; p++ {
			add(p)
		}
	}
	return pages
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// Split extracts the pages selected by ranges, in the order given.
func (s *Service) Split(ctx context.Context, up *pipeline.Upload, ranges string, o OpenOptions) (*pipeline.Result, error) {
	if err := ValidateRanges(ranges); err != nil {
		return nil, err
	}

	job, err := pipeline.NewJob(s.workDir)
	if err != nil {
		return nil, err
	}
	defer job.Close()

	src, err := job.SaveUpload(up, "src.pdf")
	if err != nil {
		return nil, err
	}
	out := job.Path("extracted.pdf")

	tool, err := s.locator.Resolve(SplitChain)
	if err != nil {
		return nil, err
	}
	if tool.IsLibrary() {
		err = s.splitLibrary(src, out, ranges, o)
	} else {
		err = s.splitQPDF(ctx, tool, src, out, ranges, o)
	}
	if err != nil {
		return nil, err
	}
	return job.Result(out, contentTypePDF, "extracted.pdf")
}

func (s *Service) splitQPDF(ctx context.Context, qpdf pipeline.ToolBinding, src, out, ranges string, o OpenOptions) error {
	var stdout bytes.Buffer
	if err := s.runner.Run(ctx, qpdf, QPDFPageCountArgs(src, o.Password), nil, &stdout); err != nil {
		return classify(err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(stdout.String()))
	if err != nil {
		return pipeline.InputRejected(err, "could not read page count")
	}

	pages := ParseRanges(ranges, count)
	if len(pages) == 0 {
		return pipeline.InvalidRequest("no pages selected (document has %d pages)", count)
	}
	if err := s.runner.Run(ctx, qpdf, QPDFSelectArgs(src, out, pages, o.Password), nil, nil); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Service) splitLibrary(src, out, ranges string, o OpenOptions) error {
	opened, err := open(src, o)
	if err != nil {
		return pipeline.InputRejected(err, "could not open PDF")
	}
	count, err := api.PageCountFile(opened)
	if err != nil {
		return pipeline.InputRejected(err, "could not read page count")
	}

	pages := ParseRanges(ranges, count)
	if len(pages) == 0 {
		return pipeline.InvalidRequest("no pages selected (document has %d pages)", count)
	}
	selected := make([]string, len(pages))
	for i, p := range pages {
		selected[i] = strconv.Itoa(p)
	}
	return api.CollectFile(opened, out, selected, configuration())
}

// QPDFPageCountArgs is the qpdf argv printing the page count of src.
func QPDFPageCountArgs(src, password string) []string {
	return withPassword([]string{"--show-npages", src}, password)
}

// QPDFSelectArgs is the qpdf argv writing pages of src, in order, to out.
func QPDFSelectArgs(src, out string, pages []int, password string) []string {
	list := make([]string, len(pages))
	for i, p := range pages {
		list[i] = strconv.Itoa(p)
	}
	return withPassword([]string{src, out, "--pages", ".", strings.Join(list, ","), "--"}, password)
}

func withPassword(args []string, password string) []string {
	if password == "" {
		return args
	}
	return append([]string{"--password=" + password}, args...)
}
