package imagetool

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitgremlin/internal/pipeline"
	"bitgremlin/internal/pipeline/pipelinetest"
)

func TestHelperProcess(t *testing.T) { pipelinetest.Main() }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeBounds(t *testing.T, data []byte) (image.Rectangle, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return image.Rect(0, 0, cfg.Width, cfg.Height), format
}

func newService(t *testing.T, installed ...string) (*Service, *pipelinetest.Recorder) {
	rec := &pipelinetest.Recorder{}
	loc := pipeline.NewLocator(nil, nil, pipeline.WithLookPath(pipelinetest.LookPath(installed...)))
	run := pipeline.NewRunner(pipeline.WithCommand(rec.Command), pipeline.WithWaitDelay(time.Second))
	return NewService(NewWebPEncoder(loc, run, t.TempDir())), rec
}

func TestProcess_ResizeInsideKeepsAspect(t *testing.T) {
	svc, _ := newService(t)
	out, err := svc.Process(context.Background(), pngBytes(t, 400, 200), Options{Width: 100, Fit: FitInside, Format: "auto", Quality: 85})
	require.NoError(t, err)

	b, format := decodeBounds(t, out.Data)
	assert.Equal(t, "png", format)
	assert.Equal(t, "png", out.Ext)
	assert.Equal(t, 100, b.Dx())
	assert.Equal(t, 50, b.Dy())
}

func TestResize_FitModes(t *testing.T) {
	src := imaging.New(400, 200, color.NRGBA{A: 255})

	tests := []struct {
		fit  string
		w, h int
		want image.Point
	}{
		{FitInside, 100, 100, image.Pt(100, 50)},
		{FitOutside, 100, 100, image.Pt(200, 100)},
		{FitCover, 100, 100, image.Pt(100, 100)},
		{FitContain, 100, 100, image.Pt(100, 100)},
		{FitFill, 100, 100, image.Pt(100, 100)},
		{FitInside, 0, 50, image.Pt(100, 50)},
		{FitCover, 800, 0, image.Pt(800, 400)},
	}
	for _, tt := range tests {
		t.Run(tt.fit, func(t *testing.T) {
			got := Resize(src, tt.w, tt.h, tt.fit).Bounds().Size()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcess_JPEGOutput(t *testing.T) {
	svc, _ := newService(t)
	out, err := svc.Process(context.Background(), pngBytes(t, 64, 64), Options{Format: "jpg", Quality: 0})
	require.NoError(t, err)

	_, format := decodeBounds(t, out.Data)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, "image/jpeg", out.ContentType)
}

func TestProcess_WebPUsesCWebPFirst(t *testing.T) {
	svc, rec := newService(t, "cwebp", "ffmpeg")
	out, err := svc.Process(context.Background(), pngBytes(t, 32, 32), Options{Format: "webp", Quality: 70})
	require.NoError(t, err)
	assert.Equal(t, "webp", out.Ext)

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cwebp", calls[0].Tool)
	assert.Equal(t, []string{"-quiet", "-q", "70", "-metadata", "none"}, calls[0].Args[:5])
}

func TestProcess_WebPFallsBackToFFmpeg(t *testing.T) {
	svc, rec := newService(t, "ffmpeg")
	out, err := svc.Process(context.Background(), pngBytes(t, 32, 32), Options{Format: "webp", Quality: 70})
	require.NoError(t, err)

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ffmpeg", calls[0].Tool)
	assert.Equal(t, FFmpegWebPArgs(70), calls[0].Args)
	// the fake ffmpeg echoes its stdin
	assert.True(t, bytes.HasPrefix(out.Data, []byte("\x89PNG")))
}

func TestProcess_WebPWithoutEncoder(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Process(context.Background(), pngBytes(t, 32, 32), Options{Format: "webp"})
	require.Error(t, err)
	assert.True(t, pipeline.IsKind(err, pipeline.KindToolNotFound))
}

func TestProcess_RejectsGarbage(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Process(context.Background(), []byte("not an image"), Options{})
	require.Error(t, err)
	assert.Equal(t, 400, pipeline.StatusCode(err))
}

func TestConvert(t *testing.T) {
	svc, _ := newService(t)

	out, err := svc.Convert(context.Background(), pngBytes(t, 16, 16), "jpeg")
	require.NoError(t, err)
	assert.Equal(t, "jpg", out.Ext)

	_, err = svc.Convert(context.Background(), pngBytes(t, 16, 16), "bmp")
	require.Error(t, err)
	assert.True(t, pipeline.IsKind(err, pipeline.KindUnsupportedOperation))
}

func TestPNGLevel(t *testing.T) {
	assert.Equal(t, png.NoCompression, pngLevel(0))
	assert.Equal(t, png.BestSpeed, pngLevel(30))
	assert.Equal(t, png.DefaultCompression, pngLevel(60))
	assert.Equal(t, png.BestCompression, pngLevel(85))
}
