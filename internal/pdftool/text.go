package pdftool

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/gen2brain/go-fitz"

	"bitgremlin/internal/pipeline"
)

const contentTypeText = "text/plain; charset=utf-8"

// Text extracts the document text with pdftotext, or MuPDF when pdftotext is not
// installed. Pages are separated by form feeds.
func (s *Service) Text(ctx context.Context, up *pipeline.Upload) (*pipeline.Result, error) {
	job, err := pipeline.NewJob(s.workDir)
	if err != nil {
		return nil, err
	}
	defer job.Close()

	in, err := job.SaveUpload(up, "input.pdf")
	if err != nil {
		return nil, err
	}
	out := job.Path("extracted.txt")

	tool, err := s.locator.Resolve(TextChain)
	if err != nil {
		return nil, err
	}
	if tool.IsLibrary() {
		err = extractText(ctx, in, out)
	} else {
		err = classify(s.runner.Run(ctx, tool, PDFToTextArgs(in, out), nil, nil))
	}
	if err != nil {
		return nil, err
	}
	return job.Result(out, contentTypeText, "extracted.txt")
}

// PDFToTextArgs is the pdftotext argv writing the text of in to out.
func PDFToTextArgs(in, out string) []string {
	return []string{"-layout", "-enc", "UTF-8", in, out}
}

func extractText(ctx context.Context, in, out string) error {
	doc, err := fitz.New(in)
	if err != nil {
		return pipeline.InputRejected(err, "could not open PDF")
	}
	defer doc.Close()

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create text output: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		text, err := doc.Text(i)
		if err != nil {
			return pipeline.InputRejected(err, "could not extract text from page %d", i+1)
		}
		if i > 0 {
			w.WriteString("\f")
		}
		w.WriteString(text)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write text output: %w", err)
	}
	return f.Close()
}
