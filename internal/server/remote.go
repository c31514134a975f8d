package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bitgremlin/internal/pipeline"
	"bitgremlin/internal/removebg"
	"bitgremlin/internal/youtube"
)

func (s *Server) handleRemoveBG(c *gin.Context) {
	form, ok := s.multipart(c)
	if !ok {
		return
	}
	defer form.Close()

	up, err := form.File("image")
	if err == nil {
		err = up.Expect(pipeline.KindImage)
	}
	if err != nil {
		fail(c, err)
		return
	}
	data, err := up.ReadAll()
	if err != nil {
		fail(c, err)
		return
	}

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.Image)
	defer cancel()
	out, err := s.remover.Remove(ctx, data, up.Name)
	if err != nil {
		fail(c, fmt.Errorf("background removal failed: %w", err))
		return
	}

	res := pipeline.BytesResult(out.Data, "image/png", "")
	res.SetHeader(removebg.BackendHeader, out.Backend)
	send(c, res)
}

type downloadRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// handleYouTube streams the transcoded download. Once bytes are out a failure can
// only abort the connection.
func (s *Server) handleYouTube(c *gin.Context) {
	var body downloadRequest
	if err := s.acceptor.JSON(c.Writer, c.Request, &body); err != nil {
		failJSON(c, err)
		return
	}
	format, err := youtube.LookupFormat(pipeline.Bounded(body.Format, 16))
	if err != nil {
		failJSON(c, err)
		return
	}

	ctx, cancel := withTimeout(c, s.cfg.Timeouts.Media)
	defer cancel()

	out := pipeline.NewStreamWriter(ctx, c.Writer, format.ContentType, format.Filename())
	err = s.youtube.Download(ctx, pipeline.Bounded(body.URL, 2048), format, out)
	switch {
	case err == nil && !out.Started():
		pipeline.SetDownloadHeaders(c.Writer.Header(), format.ContentType, format.Filename())
		c.Status(http.StatusOK)
	case err == nil:
	case out.Started():
		zerolog.Ctx(ctx).Warn().Err(err).Int64("bytes", out.Written()).Msg("download aborted mid-stream")
		panic(http.ErrAbortHandler)
	default:
		failJSON(c, err)
	}
}
