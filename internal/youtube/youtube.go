// Package youtube downloads YouTube media by piping yt-dlp into ffmpeg and
// streaming the ffmpeg output.
package youtube

import (
	"context"
	"net/url"
	"strings"

	"bitgremlin/internal/pipeline"
)

// FetchChain lists the downloaders in order of preference.
var FetchChain = pipeline.Chain{Tools: []string{"yt-dlp", "youtube-dl"}}

// Format is one download format.
type Format struct {
	Name        string
	ContentType string
	selector    string
	transcode   []string
}

var formats = map[string]Format{
	"mp3": {
		Name:        "mp3",
		ContentType: "audio/mpeg",
		selector:    "bestaudio/best",
		transcode:   []string{"-vn", "-c:a", "libmp3lame", "-b:a", "320k", "-f", "mp3"},
	},
	"wav": {
		Name:        "wav",
		ContentType: "audio/wav",
		selector:    "bestaudio/best",
		transcode:   []string{"-vn", "-f", "wav"},
	},
	"mp4": {
		Name:        "mp4",
		ContentType: "video/mp4",
		selector:    "best",
		transcode:   []string{"-c", "copy", "-movflags", "+frag_keyframe+empty_moov", "-f", "mp4"},
	},
}

// Formats are the accepted format names.
var Formats = []string{"mp3", "mp4", "wav"}

// LookupFormat returns the named format, defaulting to mp3.
func LookupFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "mp3"
	}
	f, ok := formats[name]
	if !ok {
		return Format{}, pipeline.UnsupportedParameter("format", name)
	}
	return f, nil
}

// Filename is the download name for f.
func (f Format) Filename() string {
	return "download." + f.Name
}

// ValidateURL accepts http(s) URLs on youtube.com, its subdomains and youtu.be.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return pipeline.InvalidRequest("Invalid URL. Only youtube.com/youtu.be are allowed.")
	}
	host := strings.ToLower(u.Hostname())
	if host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") || host == "youtu.be" {
		return nil
	}
	return pipeline.InvalidRequest("Invalid URL. Only youtube.com/youtu.be are allowed.")
}

// FetchArgs is the downloader argv writing the source stream to stdout.
func FetchArgs(f Format, url string) []string {
	return []string{
		"--no-playlist", "--restrict-filenames", "--no-warnings", "--no-part",
		"-f", f.selector,
		"-o", "-",
		"--", url,
	}
}

// TranscodeArgs is the ffmpeg argv reading the source on stdin and writing f on
// stdout.
func TranscodeArgs(f Format) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
	args = append(args, f.transcode...)
	return append(args, "pipe:1")
}

// Service downloads media.
type Service struct {
	locator *pipeline.Locator
	runner  *pipeline.Runner
}

// NewService creates a download service.
func NewService(locator *pipeline.Locator, runner *pipeline.Runner) *Service {
	return &Service{locator: locator, runner: runner}
}

// Download streams rawURL converted to f into out. Both tools are resolved before
// anything is spawned.
func (s *Service) Download(ctx context.Context, rawURL string, f Format, out *pipeline.StreamWriter) error {
	if err := ValidateURL(rawURL); err != nil {
		return err
	}
	fetcher, err := s.locator.Resolve(FetchChain)
	if err != nil {
		return err
	}
	ffmpeg, err := s.locator.Locate("ffmpeg")
	if err != nil {
		return err
	}

	return s.runner.Pipe(ctx,
		pipeline.Stage{Tool: fetcher, Args: FetchArgs(f, strings.TrimSpace(rawURL))},
		pipeline.Stage{Tool: ffmpeg, Args: TranscodeArgs(f)},
		nil, out)
}
