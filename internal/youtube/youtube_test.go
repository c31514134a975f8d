package youtube

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitgremlin/internal/pipeline"
	"bitgremlin/internal/pipeline/pipelinetest"
)

func TestHelperProcess(t *testing.T) { pipelinetest.Main() }

func TestValidateURL(t *testing.T) {
	for _, ok := range []string{
		"https://www.youtube.com/watch?v=abc",
		"https://youtube.com/watch?v=abc",
		"https://m.youtube.com/watch?v=abc",
		"https://youtu.be/abc",
	} {
		assert.NoError(t, ValidateURL(ok), ok)
	}
	for _, bad := range []string{
		"",
		"ftp://youtube.com/x",
		"https://notyoutube.com/watch",
		"https://youtu.be.evil.com/abc",
		"https://example.com/?u=youtube.com",
		"-o /etc/passwd",
	} {
		err := ValidateURL(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, 400, pipeline.StatusCode(err), bad)
	}
}

func TestArgs(t *testing.T) {
	mp3, err := LookupFormat("")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"--no-playlist", "--restrict-filenames", "--no-warnings", "--no-part",
		"-f", "bestaudio/best", "-o", "-", "--", "https://youtu.be/x",
	}, FetchArgs(mp3, "https://youtu.be/x"))
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-i", "pipe:0",
		"-vn", "-c:a", "libmp3lame", "-b:a", "320k", "-f", "mp3", "pipe:1",
	}, TranscodeArgs(mp3))

	mp4, err := LookupFormat("MP4")
	require.NoError(t, err)
	assert.Equal(t, "best", FetchArgs(mp4, "u")[5])
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-i", "pipe:0",
		"-c", "copy", "-movflags", "+frag_keyframe+empty_moov", "-f", "mp4", "pipe:1",
	}, TranscodeArgs(mp4))
	assert.Equal(t, "download.mp4", mp4.Filename())

	_, err = LookupFormat("flac")
	assert.True(t, pipeline.IsKind(err, pipeline.KindUnsupportedParameter))
}

func newService(installed ...string) (*Service, *pipelinetest.Recorder) {
	rec := &pipelinetest.Recorder{}
	loc := pipeline.NewLocator(nil, map[string]string{"yt-dlp": "YTDLP_BIN", "ffmpeg": "FFMPEG_PATH"},
		pipeline.WithLookPath(pipelinetest.LookPath(installed...)))
	run := pipeline.NewRunner(pipeline.WithCommand(rec.Command), pipeline.WithWaitDelay(time.Second))
	return NewService(loc, run), rec
}

func TestDownload_Streams(t *testing.T) {
	svc, rec := newService("youtube-dl", "ffmpeg")
	f, _ := LookupFormat("wav")

	w := httptest.NewRecorder()
	out := pipeline.NewStreamWriter(context.Background(), w, f.ContentType, f.Filename())
	require.NoError(t, svc.Download(context.Background(), "https://youtu.be/x", f, out))

	assert.Equal(t, "media-stream:youtube-dl", w.Body.String())
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=download.wav", w.Header().Get("Content-Disposition"))

	tools := []string{}
	for _, c := range rec.Calls() {
		tools = append(tools, c.Tool)
	}
	assert.ElementsMatch(t, []string{"youtube-dl", "ffmpeg"}, tools)
}

func TestDownload_FetchFailureBeforeOutput(t *testing.T) {
	svc, _ := newService("yt-dlp", "ffmpeg")
	f, _ := LookupFormat("mp3")

	w := httptest.NewRecorder()
	out := pipeline.NewStreamWriter(context.Background(), w, f.ContentType, f.Filename())
	err := svc.Download(context.Background(), "https://youtu.be/unavailable", f, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Video unavailable")
	assert.False(t, out.Started())
}

func TestDownload_MissingTools(t *testing.T) {
	svc, rec := newService("ffmpeg")
	f, _ := LookupFormat("mp3")

	err := svc.Download(context.Background(), "https://youtu.be/x", f, nil)
	require.Error(t, err)
	assert.True(t, pipeline.IsKind(err, pipeline.KindToolNotFound))
	assert.Contains(t, err.Error(), "YTDLP_BIN")
	assert.Empty(t, rec.Calls())

	svc, _ = newService("yt-dlp")
	err = svc.Download(context.Background(), "https://youtu.be/x", f, nil)
	assert.Contains(t, err.Error(), "FFMPEG_PATH")
}
