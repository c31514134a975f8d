package server

import (
	"github.com/gin-gonic/gin"

	"bitgremlin/internal/imagetool"
	"bitgremlin/internal/media"
	"bitgremlin/internal/pipeline"
)

func (s *Server) handleConvert(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	kind, err := form.Enum("kind", "", string(pipeline.KindImage), string(pipeline.KindAudio), string(pipeline.KindVideo))
	if err != nil {
		fail(c, err)
		return
	}
	target := form.String("target")
	if target == "" {
		fail(c, pipeline.InvalidRequest("missing target"))
		return
	}
	up, err := form.File("file")
	if err != nil {
		fail(c, err)
		return
	}
	req := pipeline.Request{Source: up, Kind: pipeline.MediaKind(kind), Target: target}

	if req.Kind == pipeline.KindImage {
		s.convertImage(c, req)
		return
	}

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.Media)
	defer cancel()
	res, err := s.media.Convert(ctx, req)
	if err != nil {
		fail(c, err)
		return
	}
	send(c, res)
}

func (s *Server) convertImage(c *gin.Context, req pipeline.Request) {
	ctx, cancel := withTimeout(c, s.cfg.Timeouts.Image)
	defer cancel()

	data, err := req.Source.ReadAll()
	if err != nil {
		fail(c, err)
		return
	}
	out, err := s.images.Convert(ctx, data, req.Target)
	if err != nil {
		fail(c, err)
		return
	}
	send(c, pipeline.BytesResult(out.Data, out.ContentType, req.Source.Base()+"."+out.Ext))
}

func (s *Server) handleProcess(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	up, err := form.File("file")
	if err != nil {
		fail(c, err)
		return
	}
	opts := media.AudioOptions{Normalize: form.Bool("normalize")}
	if opts.Format, err = form.Enum("format", "mp3", media.AudioFormats...); err != nil {
		fail(c, err)
		return
	}
	if opts.Bitrate, err = form.Enum("bitrate", "", append([]string{""}, media.Bitrates...)...); err != nil {
		fail(c, err)
		return
	}
	if opts.SampleRate, err = form.Enum("samplerate", "", append([]string{""}, media.SampleRates...)...); err != nil {
		fail(c, err)
		return
	}
	opts.Start, _ = form.ClampFloat("start", 0, media.MaxClipSeconds)
	opts.End, _ = form.ClampFloat("end", 0, media.MaxClipSeconds)

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.Media)
	defer cancel()
	res, err := s.media.Process(ctx, up, opts)
	if err != nil {
		fail(c, err)
		return
	}
	send(c, res)
}

func (s *Server) handleImageTools(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	up, err := form.File("file")
	if err != nil {
		fail(c, err)
		return
	}
	var opts imagetool.Options
	if opts.Width, err = form.Int("width", 0, 1, imagetool.MaxDimension); err != nil {
		fail(c, err)
		return
	}
	if opts.Height, err = form.Int("height", 0, 1, imagetool.MaxDimension); err != nil {
		fail(c, err)
		return
	}
	if opts.Fit, err = form.Enum("fit", imagetool.FitInside, imagetool.Fits...); err != nil {
		fail(c, err)
		return
	}
	if opts.Format, err = form.Enum("format", "auto", imagetool.Formats...); err != nil {
		fail(c, err)
		return
	}
	opts.Quality = form.ClampInt("quality", 85, 0, 100)

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.Image)
	defer cancel()

	data, err := up.ReadAll()
	if err != nil {
		fail(c, err)
		return
	}
	out, err := s.images.Process(ctx, data, opts)
	if err != nil {
		fail(c, err)
		return
	}
	send(c, pipeline.BytesResult(out.Data, out.ContentType, "output."+out.Ext))
}
