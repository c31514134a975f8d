package media

import (
	"context"
	"path/filepath"

	"bitgremlin/internal/pipeline"
)

// Service runs file-mediated ffmpeg conversions.
type Service struct {
	locator *pipeline.Locator
	runner  *pipeline.Runner
	workDir string
}

// NewService creates a media service.
func NewService(locator *pipeline.Locator, runner *pipeline.Runner, workDir string) *Service {
	return &Service{locator: locator, runner: runner, workDir: workDir}
}

// Convert transcodes an upload to target. The result is named after the upload.
func (s *Service) Convert(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	t, err := LookupTarget(req.Kind, req.Target)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, req.Source, t, req.Source.Base()+"."+t.Ext, func(in, out string) ([]string, error) {
		return ConvertArgs(t, in, out), nil
	})
}

// Process runs the audio tool.
func (s *Service) Process(ctx context.Context, up *pipeline.Upload, o AudioOptions) (*pipeline.Result, error) {
	t, err := AudioTarget(o.Format)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, up, t, OutputName(t), func(in, out string) ([]string, error) {
		return AudioArgs(in, out, o)
	})
}

func (s *Service) run(ctx context.Context, up *pipeline.Upload, t Target, filename string, build func(in, out string) ([]string, error)) (*pipeline.Result, error) {
	ffmpeg, err := s.locator.Locate("ffmpeg")
	if err != nil {
		return nil, err
	}

	job, err := pipeline.NewJob(s.workDir)
	if err != nil {
		return nil, err
	}
	defer job.Close()

	in, err := job.SaveUpload(up, "input"+filepath.Ext(up.Name))
	if err != nil {
		return nil, err
	}
	out := job.Path("output." + t.Ext)

	args, err := build(in, out)
	if err != nil {
		return nil, err
	}
	if err := s.runner.Run(ctx, ffmpeg, args, nil, nil); err != nil {
		return nil, err
	}
	return job.Result(out, t.ContentType, filename)
}
