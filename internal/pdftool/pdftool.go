// Package pdftool merges, splits, compresses, extracts text from and stamps PDF
// documents. Each operation prefers an external tool and falls back to pdfcpu or
// MuPDF in process when the tool is not installed.
package pdftool

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"bitgremlin/internal/pipeline"
)

// Tool chains in order of preference.
var (
	MergeChain    = pipeline.Chain{Tools: []string{"pdfunite", "gs"}, Library: true}
	SplitChain    = pipeline.Chain{Tools: []string{"qpdf"}, Library: true}
	CompressChain = pipeline.Chain{Tools: []string{"gs"}, Library: true}
	TextChain     = pipeline.Chain{Tools: []string{"pdftotext"}, Library: true}
)

const contentTypePDF = "application/pdf"

// Service runs PDF operations.
type Service struct {
	locator *pipeline.Locator
	runner  *pipeline.Runner
	workDir string
}

// NewService creates a PDF service.
func NewService(locator *pipeline.Locator, runner *pipeline.Runner, workDir string) *Service {
	return &Service{locator: locator, runner: runner, workDir: workDir}
}

// OpenOptions controls how encrypted or damaged documents are opened.
type OpenOptions struct {
	Password string
	// Ignore accepts a readable document that fails validation, rewritten by pdfcpu.
	Ignore bool
}

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// open applies the open policy to the document at path and returns the path to
// process: plain, then with the password, then without validation when Ignore is
// set. A document that cannot even be read fails under every policy.
func open(path string, o OpenOptions) (string, error) {
	err := api.ValidateFile(path, configuration())
	if err == nil {
		return path, nil
	}

	if o.Password != "" {
		conf := configuration()
		conf.UserPW = o.Password
		conf.OwnerPW = o.Password
		decrypted := strings.TrimSuffix(path, ".pdf") + ".decrypted.pdf"
		derr := api.DecryptFile(path, decrypted, conf)
		if derr == nil {
			return decrypted, nil
		}
		err = derr
	}

	if o.Ignore {
		repaired, rerr := rewrite(path)
		if rerr == nil {
			return repaired, nil
		}
		err = rerr
	}
	return "", err
}

// rewrite loads path without validating it and writes the parsed document back out,
// so later steps see a well-formed file.
func rewrite(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	ctx, err := api.ReadContext(f, configuration())
	if err != nil {
		return "", err
	}
	repaired := strings.TrimSuffix(path, ".pdf") + ".unchecked.pdf"
	if err := api.WriteContextFile(ctx, repaired); err != nil {
		os.Remove(repaired)
		return "", err
	}
	return repaired, nil
}

// classify turns tool failures that describe a bad document into InputRejected.
func classify(err error) error {
	var pe *pipeline.ProcessError
	if !errors.As(err, &pe) {
		return err
	}
	msg := strings.ToLower(pe.Stderr)
	for _, marker := range []string{"invalid password", "not a pdf", "damaged", "encrypted", "couldn't open"} {
		if strings.Contains(msg, marker) {
			return pipeline.InputRejected(err, "%s could not read the document", pe.Tool)
		}
	}
	return err
}

func inputName(i int) string {
	return fmt.Sprintf("input-%03d.pdf", i)
}
