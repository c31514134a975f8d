package imagetool

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strconv"

	"github.com/disintegration/imaging"

	"bitgremlin/internal/pipeline"
)

// WebPChain lists the WebP encoders in order of preference.
var WebPChain = pipeline.Chain{Tools: []string{"cwebp", "ffmpeg"}}

// WebPEncoder encodes images to WebP with cwebp, or ffmpeg when cwebp is missing.
type WebPEncoder struct {
	locator *pipeline.Locator
	runner  *pipeline.Runner
	workDir string
}

// NewWebPEncoder creates a WebP encoder.
func NewWebPEncoder(locator *pipeline.Locator, runner *pipeline.Runner, workDir string) *WebPEncoder {
	return &WebPEncoder{locator: locator, runner: runner, workDir: workDir}
}

// Encode encodes img at quality 0..100.
func (e *WebPEncoder) Encode(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	tool, err := e.locator.Resolve(WebPChain)
	if err != nil {
		return nil, err
	}

	var src bytes.Buffer
	if err := imaging.Encode(&src, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
		return nil, fmt.Errorf("encode intermediate png: %w", err)
	}

	if tool.Name == "cwebp" {
		return e.cwebp(ctx, tool, src.Bytes(), quality)
	}
	var out bytes.Buffer
	if err := e.runner.Run(ctx, tool, FFmpegWebPArgs(quality), &src, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (e *WebPEncoder) cwebp(ctx context.Context, tool pipeline.ToolBinding, src []byte, quality int) ([]byte, error) {
	job, err := pipeline.NewJob(e.workDir)
	if err != nil {
		return nil, err
	}
	defer job.Close()

	in, err := job.WriteInput("input.png", bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	out := job.Path("output.webp")
	if err := e.runner.Run(ctx, tool, CWebPArgs(in, out, quality), nil, nil); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read webp output: %w", err)
	}
	return data, nil
}

// CWebPArgs is the cwebp argv for one encode.
func CWebPArgs(in, out string, quality int) []string {
	return []string{"-quiet", "-q", strconv.Itoa(quality), "-metadata", "none", in, "-o", out}
}

// FFmpegWebPArgs is the ffmpeg argv encoding a PNG on stdin to WebP on stdout.
func FFmpegWebPArgs(quality int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "png_pipe", "-i", "pipe:0",
		"-c:v", "libwebp", "-quality", strconv.Itoa(quality),
		"-f", "webp", "pipe:1",
	}
}
