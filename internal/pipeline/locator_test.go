package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitgremlin/internal/pipeline"
	"bitgremlin/internal/pipeline/pipelinetest"
)

var envNames = map[string]string{
	"ffmpeg":   "FFMPEG_PATH",
	"pdfunite": "PDFUNITE_BIN",
	"gs":       "GS_BIN",
}

func TestLocator_OverrideWins(t *testing.T) {
	loc := pipeline.NewLocator(
		map[string]string{"ffmpeg": "/opt/ffmpeg/bin/ffmpeg"},
		envNames,
		pipeline.WithLookPath(pipelinetest.LookPath("ffmpeg")),
	)

	b, err := loc.Locate("ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", b.Path)
	assert.Equal(t, pipeline.SourceOverride, b.Source)
}

func TestLocator_PathLookup(t *testing.T) {
	loc := pipeline.NewLocator(nil, envNames, pipeline.WithLookPath(pipelinetest.LookPath("ffmpeg")))

	b, err := loc.Locate("ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, "/fake/bin/ffmpeg", b.Path)
	assert.Equal(t, pipeline.SourcePath, b.Source)
}

func TestLocator_NotFoundNamesOverride(t *testing.T) {
	loc := pipeline.NewLocator(nil, envNames, pipeline.WithLookPath(pipelinetest.LookPath()))

	_, err := loc.Locate("ffmpeg")
	require.Error(t, err)
	assert.True(t, pipeline.IsKind(err, pipeline.KindToolNotFound))
	assert.Equal(t, 500, pipeline.StatusCode(err))
	assert.Contains(t, err.Error(), "ffmpeg")
	assert.Contains(t, err.Error(), "FFMPEG_PATH")
}

func TestLocator_BrokenOverrideIsUnavailable(t *testing.T) {
	loc := pipeline.NewLocator(
		map[string]string{"pdfunite": "/nowhere/pdfunite-old"},
		envNames,
		pipeline.WithLookPath(pipelinetest.LookPath("gs")),
	)

	b, err := loc.Resolve(pipeline.Chain{Tools: []string{"pdfunite", "gs"}})
	require.NoError(t, err)
	assert.Equal(t, "gs", b.Name)
}

func TestLocator_FallbackOrder(t *testing.T) {
	merge := pipeline.Chain{Tools: []string{"pdfunite", "gs"}, Library: true}

	tests := []struct {
		name      string
		installed []string
		want      string
		source    pipeline.Source
	}{
		{"all installed", []string{"pdfunite", "gs"}, "pdfunite", pipeline.SourcePath},
		{"first missing", []string{"gs"}, "gs", pipeline.SourcePath},
		{"none installed", nil, "library", pipeline.SourceLibrary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := pipeline.NewLocator(nil, envNames, pipeline.WithLookPath(pipelinetest.LookPath(tt.installed...)))
			b, err := loc.Resolve(merge)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Name)
			assert.Equal(t, tt.source, b.Source)
		})
	}
}

func TestLocator_Report(t *testing.T) {
	loc := pipeline.NewLocator(nil, envNames, pipeline.WithLookPath(pipelinetest.LookPath("gs")))

	report := loc.Report("ffmpeg", "gs")
	require.Len(t, report, 2)
	assert.False(t, report[0].Found)
	assert.Equal(t, "FFMPEG_PATH", report[0].Env)
	assert.True(t, report[1].Found)
	assert.Equal(t, "/fake/bin/gs", report[1].Binding.Path)
}
