package pipeline_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitgremlin/internal/pipeline"
)

func TestJob_ResultHandsOffCleanup(t *testing.T) {
	root := t.TempDir()
	job, err := pipeline.NewJob(root)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(job.Dir()), "bitgremlin-"))

	in, err := job.WriteInput("input.wav", strings.NewReader("audio"))
	require.NoError(t, err)
	out := job.Path("output.mp3")

	err = newRunner().Run(context.Background(), fakeTool("ffmpeg"), []string{"-y", "-i", in, out}, nil, nil)
	require.NoError(t, err)

	res, err := job.Result(out, "audio/mpeg", "song.mp3")
	require.NoError(t, err)

	// the job no longer owns the directory
	require.NoError(t, job.Close())
	assert.DirExists(t, job.Dir())

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(data))
	assert.Equal(t, int64(5), res.ContentLength)

	require.NoError(t, res.Body.Close())
	assert.NoDirExists(t, job.Dir())
	require.NoError(t, res.Body.Close())
}

func TestJob_CleanupOnToolFailure(t *testing.T) {
	root := t.TempDir()
	job, err := pipeline.NewJob(root)
	require.NoError(t, err)

	in, err := job.WriteInput("input.wav", strings.NewReader("corrupt data"))
	require.NoError(t, err)

	err = newRunner().Run(context.Background(), fakeTool("ffmpeg"), []string{"-y", "-i", in, job.Path("out.mp3")}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")

	require.NoError(t, job.Close())
	assert.NoDirExists(t, job.Dir())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJob_UniqueDirectories(t *testing.T) {
	root := t.TempDir()
	a, err := pipeline.NewJob(root)
	require.NoError(t, err)
	defer a.Close()
	b, err := pipeline.NewJob(root)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Dir(), b.Dir())
}

func TestJob_PathStaysInsideDir(t *testing.T) {
	job, err := pipeline.NewJob(t.TempDir())
	require.NoError(t, err)
	defer job.Close()

	assert.Equal(t, filepath.Join(job.Dir(), "passwd"), job.Path("../../etc/passwd"))
}
