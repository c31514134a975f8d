package server

import (
	"github.com/gin-gonic/gin"

	"bitgremlin/internal/pdftool"
	"bitgremlin/internal/pipeline"
)

// maxPagePoints bounds stamp coordinates to the largest page PDF allows.
const maxPagePoints = 14400

func openOptions(form *pipeline.Form) pdftool.OpenOptions {
	return pdftool.OpenOptions{
		Password: form.String("password"),
		Ignore:   form.Bool("ignore"),
	}
}

// pdfUpload returns the "file" upload after checking it is a PDF.
func pdfUpload(c *gin.Context, form *pipeline.Form) (*pipeline.Upload, bool) {
	up, err := form.File("file")
	if err == nil {
		err = up.Expect(pipeline.KindPDF)
	}
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return up, true
}

func (s *Server) handlePDFMerge(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	files, err := form.Files("files")
	if err != nil {
		fail(c, err)
		return
	}

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.PDF)
	defer cancel()
	res, err := s.pdf.Merge(ctx, files, openOptions(form))
	if err != nil {
		fail(c, err)
		return
	}
	send(c, res)
}

func (s *Server) handlePDFSplit(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	up, ok := pdfUpload(c, form)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.PDF)
	defer cancel()
	res, err := s.pdf.Split(ctx, up, form.String("ranges"), openOptions(form))
	if err != nil {
		fail(c, err)
		return
	}
	send(c, res)
}

func (s *Server) handlePDFCompress(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	up, ok := pdfUpload(c, form)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.PDF)
	defer cancel()
	res, err := s.pdf.Compress(ctx, up, form.String("preset"))
	if err != nil {
		fail(c, err)
		return
	}
	send(c, res)
}

func (s *Server) handlePDFText(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	up, ok := pdfUpload(c, form)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.PDF)
	defer cancel()
	res, err := s.pdf.Text(ctx, up)
	if err != nil {
		fail(c, err)
		return
	}
	send(c, res)
}

func (s *Server) handlePDFSign(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	up, ok := pdfUpload(c, form)
	if !ok {
		return
	}
	opts := pdftool.SignOptions{
		Text: form.String("text"),
		Page: form.ClampInt("page", 1, 1, 1<<20),
	}
	opts.X, _ = form.ClampFloat("x", 0, maxPagePoints)
	opts.Y, _ = form.ClampFloat("y", 0, maxPagePoints)
	var set bool
	if opts.WidthPct, set = form.ClampFloat("widthPct", 5, 90); !set {
		opts.WidthPct = 30
	}
	var err error
	if opts.Certificate, err = form.OptionalFile("p12"); err != nil {
		fail(c, err)
		return
	}
	if opts.Font, err = form.OptionalFile("ttf"); err != nil {
		fail(c, err)
		return
	}
	opts.Passphrase = form.String("pass")

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.PDF)
	defer cancel()
	res, err := s.pdf.Sign(ctx, up, opts)
	if err != nil {
		fail(c, err)
		return
	}
	send(c, res)
}
